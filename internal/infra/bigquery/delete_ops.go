package bigquery

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-backup/internal/apperr"
)

// DeleteBatch implements ledger.Store with a single DML statement.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.runDML(ctx, `
		DELETE FROM `+s.tableRef()+`
		WHERE user_id = @user_id
		  AND transaction_id IN UNNEST(@ids)
	`, []bigquery.QueryParameter{
		{Name: "user_id", Value: s.userID},
		{Name: "ids", Value: ids},
	})
	if err != nil {
		return apperr.StorageFailure("DeleteBatch", err)
	}
	return nil
}

// DeleteAll implements ledger.Store. Only the store's user is affected.
func (s *Store) DeleteAll(ctx context.Context) error {
	err := s.runDML(ctx, `
		DELETE FROM `+s.tableRef()+`
		WHERE user_id = @user_id
	`, []bigquery.QueryParameter{
		{Name: "user_id", Value: s.userID},
	})
	if err != nil {
		return apperr.StorageFailure("DeleteAll", err)
	}
	return nil
}
