package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: bigquery
user_id: alice
bigquery:
  project_id: ledger-prod
snapshots:
  bucket: finance-snapshots
cache:
  max_retained: 20
limits:
  dedup_window: 2m
schedule:
  check_interval: 1m
  backup_interval: daily
`), 0o600))

	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBigQuery, cfg.Backend)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, "ledger-prod", cfg.BigQuery.ProjectID)
	assert.Equal(t, "finance", cfg.BigQuery.DatasetID, "defaults survive partial files")
	assert.Equal(t, "finance-snapshots", cfg.Snapshots.Bucket)
	assert.Equal(t, 20, cfg.Cache.MaxRetained)
	assert.Equal(t, 2*time.Minute, cfg.Limits.DedupWindow)
	assert.Equal(t, time.Minute, cfg.Schedule.CheckInterval)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FINANCE_BACKEND": "mongo",
		"MONGO_URI":       "mongodb://localhost:27017",
		"CACHE_IN_MEMORY": "true",
		"CHECK_INTERVAL":  "30s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.True(t, cfg.Cache.InMemory)
	assert.Equal(t, 30*time.Second, cfg.Schedule.CheckInterval)
	assert.NoError(t, cfg.Validate())

	env["PORT"] = "eighty"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "sqlite" }},
		{"bigquery without project", func(c *Config) { c.Backend = BackendBigQuery }},
		{"mongo without uri", func(c *Config) { c.Backend = BackendMongo }},
		{"zero retention", func(c *Config) { c.Cache.MaxRetained = 0 }},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad backup interval", func(c *Config) { c.Schedule.BackupInterval = "hourly" }},
		{"no cache path", func(c *Config) { c.Cache.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseBackupInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"daily", 24 * time.Hour},
		{"Weekly", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseBackupInterval(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseBackupInterval("-5m")
	assert.Error(t, err)
}
