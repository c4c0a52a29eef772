package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// Schema returns the transactions table schema inferred from TransactionRow.
func Schema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("Schema: infer: %w", err)
	}
	return schema, nil
}

// EnsureSchema creates the dataset and transactions table when missing.
// Existing tables are left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema, err := Schema()
	if err != nil {
		return err
	}

	ds := s.client.DatasetInProject(s.project, s.dataset)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !alreadyExists(err) {
		return fmt.Errorf("EnsureSchema: create dataset %s: %w", s.dataset, err)
	}

	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.MonthPartitioningType,
			Field: "transaction_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"user_id"}},
	}
	if err := s.table().Create(ctx, meta); err != nil && !alreadyExists(err) {
		return fmt.Errorf("EnsureSchema: create table %s: %w", transactionsTable, err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
