// Package config loads service settings from a YAML file, an optional .env
// file and environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
	BackendMongo    = "mongo"
)

// Config is the full service configuration.
type Config struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory bigquery mongo"`
	UserID  string `yaml:"user_id" validate:"required"`

	BigQuery  BigQueryConfig `yaml:"bigquery"`
	Mongo     MongoConfig    `yaml:"mongo"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Cache     CacheConfig    `yaml:"cache"`
	Limits    LimitsConfig   `yaml:"limits"`
	Schedule  ScheduleConfig `yaml:"schedule"`
	HTTP      HTTPConfig     `yaml:"http"`
	Log       LogConfig      `yaml:"log"`
}

type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id" validate:"required"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database" validate:"required"`
}

// SnapshotConfig selects the primary snapshot store. An empty bucket leaves
// only the local cache.
type SnapshotConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type CacheConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	MaxRetained int    `yaml:"max_retained" validate:"min=1,max=1000"`
}

type LimitsConfig struct {
	PageSize        int           `yaml:"page_size" validate:"min=1,max=10000"`
	InsertBatchSize int           `yaml:"insert_batch_size" validate:"min=1,max=10000"`
	DeleteBatchSize int           `yaml:"delete_batch_size" validate:"min=1,max=10000"`
	DedupWindow     time.Duration `yaml:"dedup_window" validate:"gt=0"`
}

type ScheduleConfig struct {
	Enabled        bool          `yaml:"enabled"`
	CheckInterval  time.Duration `yaml:"check_interval" validate:"gt=0"`
	BackupInterval string        `yaml:"backup_interval" validate:"required"`
}

type HTTPConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Backend: BackendMemory,
		UserID:  "default",
		BigQuery: BigQueryConfig{
			DatasetID: "finance",
		},
		Mongo: MongoConfig{
			Database: "finance",
		},
		Snapshots: SnapshotConfig{
			Prefix: "snapshots",
		},
		Cache: CacheConfig{
			Path:        ".finance-backup/cache",
			MaxRetained: 10,
		},
		Limits: LimitsConfig{
			PageSize:        1000,
			InsertBatchSize: 100,
			DeleteBatchSize: 50,
			DedupWindow:     5 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Enabled:        true,
			CheckInterval:  5 * time.Minute,
			BackupInterval: "15m",
		},
		HTTP: HTTPConfig{Port: 8080},
		Log:  LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
// A .env file in the working directory is loaded when present; variables
// already set in the environment win over it.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("Load: %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the environment variables that are set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("FINANCE_BACKEND", &cfg.Backend)
	str("FINANCE_USER_ID", &cfg.UserID)
	str("GCP_PROJECT", &cfg.BigQuery.ProjectID)
	str("BQ_DATASET", &cfg.BigQuery.DatasetID)
	str("MONGO_URI", &cfg.Mongo.URI)
	str("MONGO_DATABASE", &cfg.Mongo.Database)
	str("GCS_BUCKET", &cfg.Snapshots.Bucket)
	str("GCS_PREFIX", &cfg.Snapshots.Prefix)
	str("CACHE_PATH", &cfg.Cache.Path)
	boolean("CACHE_IN_MEMORY", &cfg.Cache.InMemory)
	integer("CACHE_MAX_RETAINED", &cfg.Cache.MaxRetained)
	integer("PAGE_SIZE", &cfg.Limits.PageSize)
	duration("DEDUP_WINDOW", &cfg.Limits.DedupWindow)
	boolean("SCHEDULE_ENABLED", &cfg.Schedule.Enabled)
	duration("CHECK_INTERVAL", &cfg.Schedule.CheckInterval)
	str("BACKUP_INTERVAL", &cfg.Schedule.BackupInterval)
	integer("PORT", &cfg.HTTP.Port)
	str("LOG_LEVEL", &cfg.Log.Level)
	boolean("LOG_JSON", &cfg.Log.JSON)

	if len(errs) > 0 {
		return fmt.Errorf("Load: environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks field constraints and backend-specific requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Backend {
	case BackendBigQuery:
		if c.BigQuery.ProjectID == "" {
			return errors.New("invalid config: bigquery backend requires bigquery.project_id")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return errors.New("invalid config: mongo backend requires mongo.uri")
		}
	}
	if !c.Cache.InMemory && c.Cache.Path == "" {
		return errors.New("invalid config: cache.path is required unless cache.in_memory is set")
	}
	if _, err := ParseBackupInterval(c.Schedule.BackupInterval); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseBackupInterval accepts "daily", "weekly" or a Go duration such as "15m".
func ParseBackupInterval(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("backup interval %q: want daily, weekly or a duration", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("backup interval %q must be positive", s)
	}
	return d, nil
}
