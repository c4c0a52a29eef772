// Package badgerdb opens the embedded BadgerDB used as the local fallback
// cache for snapshots.
package badgerdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Meant for tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Zero value disables them.
	Logger *zerolog.Logger
}

// DefaultConfig returns durable settings for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zerologAdapter implements badger.Logger.
type zerologAdapter struct {
	log zerolog.Logger
}

func (l zerologAdapter) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l zerologAdapter) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l zerologAdapter) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l zerologAdapter) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// Open opens a BadgerDB with cfg. The caller must Close the returned DB.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(zerologAdapter{log: *cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}
