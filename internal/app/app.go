// Package app assembles the ledger store, snapshot stores and orchestrator
// described by a config.Config. The binaries under cmd/ share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dvloznov/finance-backup/internal/backup"
	"github.com/dvloznov/finance-backup/internal/config"
	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/gcs"
	"github.com/dvloznov/finance-backup/internal/infra/badgerdb"
	infraBQ "github.com/dvloznov/finance-backup/internal/infra/bigquery"
	"github.com/dvloznov/finance-backup/internal/infra/memory"
	"github.com/dvloznov/finance-backup/internal/infra/mongodb"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/dvloznov/finance-backup/internal/logger"
	"github.com/dvloznov/finance-backup/internal/metrics"
	"github.com/dvloznov/finance-backup/internal/snapshot"
	"github.com/rs/zerolog"
)

// App holds the wired components. Close releases them.
type App struct {
	Config       config.Config
	Ledger       ledger.Store
	Snapshots    *snapshot.FallbackStore
	Orchestrator *backup.Orchestrator
	Metrics      *metrics.Metrics

	// Set only for the matching backend.
	BigQuery *infraBQ.Store
	Mongo    *mongodb.Store

	closers []func() error
}

// Logger builds the process logger from the log section of cfg.
func Logger(cfg config.Config) zerolog.Logger {
	return logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
}

// New wires every component cfg selects. On error, anything already opened
// is closed.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openLedger(ctx); err != nil {
		return nil, err
	}

	var primary, local snapshot.Store
	if cfg.Snapshots.Bucket != "" {
		client, err := gcs.NewClient(ctx, cfg.Snapshots.Bucket)
		if err != nil {
			return nil, fmt.Errorf("open snapshot bucket: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		primary = snapshot.NewRemoteStore(client, cfg.Snapshots.Prefix)
	} else {
		log.Warn().Msg("No snapshot bucket configured, snapshots are kept in the local cache only")
	}

	db, err := a.openCache()
	if err != nil {
		if primary == nil {
			return nil, fmt.Errorf("open snapshot cache: %w", err)
		}
		log.Warn().Err(err).Msg("Local snapshot cache unavailable, continuing without it")
	} else {
		a.closers = append(a.closers, db.Close)
		local = snapshot.NewLocalStore(db, cfg.Cache.MaxRetained)
	}
	a.Snapshots = snapshot.NewFallbackStore(primary, local)

	a.Orchestrator = backup.New(a.Ledger, a.Snapshots, backup.Options{
		PageSize:        cfg.Limits.PageSize,
		InsertBatchSize: cfg.Limits.InsertBatchSize,
		Dedup: dedup.Config{
			DeleteBatchSize: cfg.Limits.DeleteBatchSize,
			Window:          cfg.Limits.DedupWindow,
		},
		Recorder: a.Metrics,
	})

	log.Info().
		Str("backend", cfg.Backend).
		Bool("remote_snapshots", primary != nil).
		Bool("local_cache", local != nil).
		Msg("Backup service wired")
	return a, nil
}

func (a *App) openLedger(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Backend {
	case config.BackendBigQuery:
		store, err := infraBQ.NewStore(ctx, infraBQ.Config{
			ProjectID: cfg.BigQuery.ProjectID,
			DatasetID: cfg.BigQuery.DatasetID,
			UserID:    cfg.UserID,
		})
		if err != nil {
			return fmt.Errorf("open bigquery ledger: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.BigQuery, a.Ledger = store, store

	case config.BackendMongo:
		store, err := mongodb.Connect(ctx, mongodb.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			UserID:   cfg.UserID,
		})
		if err != nil {
			return fmt.Errorf("open mongo ledger: %w", err)
		}
		a.closers = append(a.closers, func() error { return store.Close(context.Background()) })
		a.Mongo, a.Ledger = store, store

	case config.BackendMemory:
		a.Ledger = memory.NewStore()

	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

func (a *App) openCache() (*badger.DB, error) {
	if a.Config.Cache.InMemory {
		return badgerdb.OpenInMemory()
	}
	return badgerdb.Open(badgerdb.DefaultConfig(a.Config.Cache.Path))
}

// Close releases components in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
