// Package bigquery implements ledger.Store on a BigQuery transactions table.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-backup/internal/ledger"
)

const (
	// DefaultDatasetID is the dataset holding the ledger tables.
	DefaultDatasetID = "finance"

	transactionsTable = "transactions"
)

// Config selects the table and user a Store operates on.
type Config struct {
	ProjectID string
	DatasetID string
	UserID    string
}

// Store is the BigQuery implementation of ledger.Store. It holds a shared
// client so that every operation reuses one connection.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
	userID  string
}

// NewStore creates a Store with its own BigQuery client.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("NewStore: project ID is required")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, cfg), nil
}

// NewStoreWithClient creates a Store on an existing client.
func NewStoreWithClient(client *bigquery.Client, cfg Config) *Store {
	if cfg.DatasetID == "" {
		cfg.DatasetID = DefaultDatasetID
	}
	return &Store{
		client:  client,
		project: cfg.ProjectID,
		dataset: cfg.DatasetID,
		userID:  cfg.UserID,
	}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table() *bigquery.Table {
	return s.client.DatasetInProject(s.project, s.dataset).Table(transactionsTable)
}

// tableRef returns the fully qualified, backtick-quoted table name for SQL.
func (s *Store) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, transactionsTable)
}

// runDML runs a statement and waits for the job to finish.
func (s *Store) runDML(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}

// Ensure Store implements ledger.Store.
var _ ledger.Store = (*Store)(nil)
