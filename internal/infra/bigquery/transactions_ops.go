package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"google.golang.org/api/iterator"
)

const selectColumns = `
	transaction_id,
	user_id,
	type,
	amount,
	currency,
	category_name,
	description,
	transaction_date,
	created_ts,
	updated_ts`

// ListPage implements ledger.Store.
func (s *Store) ListPage(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	q := s.client.Query(`
		SELECT` + selectColumns + `
		FROM ` + s.tableRef() + `
		WHERE user_id = @user_id
		ORDER BY created_ts, transaction_id
		LIMIT @limit OFFSET @offset
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: s.userID},
		{Name: "limit", Value: int64(limit)},
		{Name: "offset", Value: int64(offset)},
	}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure("ListPage", err)
	}
	return txs, nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx = ledger.PrepareInsert(tx, time.Now().UTC())
	if err := s.InsertBatch(ctx, []domain.Transaction{tx}); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// InsertBatch implements ledger.Store. Rows go through the streaming
// inserter in a single Put.
func (s *Store) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]*TransactionRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, toRow(s.userID, ledger.PrepareInsert(tx, now)))
	}

	inserter := s.table().Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return apperr.StorageFailure("InsertBatch", fmt.Errorf("inserting %d rows: %w", len(rows), err))
	}
	return nil
}

// FindByContent implements ledger.Store.
func (s *Store) FindByContent(ctx context.Context, key domain.ContentKey, since time.Time) ([]domain.Transaction, error) {
	amount, ok := new(big.Rat).SetString(key.Amount)
	if !ok {
		return nil, apperr.ValidationFailure("FindByContent", fmt.Errorf("invalid amount %q", key.Amount))
	}
	date, err := civil.ParseDate(key.Date)
	if err != nil {
		return nil, apperr.ValidationFailure("FindByContent", err)
	}

	q := s.client.Query(`
		SELECT` + selectColumns + `
		FROM ` + s.tableRef() + `
		WHERE user_id = @user_id
		  AND type = @type
		  AND amount = @amount
		  AND currency = @currency
		  AND category_name = @category
		  AND description = @description
		  AND transaction_date = @date
		  AND created_ts >= @since
		ORDER BY created_ts, transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: s.userID},
		{Name: "type", Value: string(key.Type)},
		{Name: "amount", Value: amount},
		{Name: "currency", Value: key.Currency},
		{Name: "category", Value: key.Category},
		{Name: "description", Value: key.Description},
		{Name: "date", Value: date},
		{Name: "since", Value: since.UTC()},
	}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return nil, apperr.StorageFailure("FindByContent", err)
	}
	return txs, nil
}

func readTransactions(ctx context.Context, q *bigquery.Query) ([]domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var txs []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		txs = append(txs, r.toDomain())
	}
	return txs, nil
}
