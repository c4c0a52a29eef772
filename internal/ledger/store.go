// Package ledger defines the transaction store the backup and integrity
// components run against, plus helpers shared by its implementations.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/google/uuid"
)

// DefaultPageSize is the number of rows fetched per page by FetchAll.
const DefaultPageSize = 1000

// Store is a CRUD interface over transactions, scoped to a single user.
type Store interface {
	// ListPage returns up to limit transactions starting at offset, ordered by
	// creation time ascending.
	ListPage(ctx context.Context, offset, limit int) ([]domain.Transaction, error)

	// Insert stores one transaction and returns it with store-assigned fields.
	Insert(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// InsertBatch stores all transactions in one request.
	InsertBatch(ctx context.Context, txs []domain.Transaction) error

	// DeleteBatch removes the transactions with the given IDs.
	DeleteBatch(ctx context.Context, ids []string) error

	// DeleteAll removes every transaction.
	DeleteAll(ctx context.Context) error

	// FindByContent returns transactions matching key created at or after since.
	FindByContent(ctx context.Context, key domain.ContentKey, since time.Time) ([]domain.Transaction, error)
}

// FetchAll pages through store until a page comes back shorter than pageSize.
func FetchAll(ctx context.Context, store Store, pageSize int) ([]domain.Transaction, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []domain.Transaction
	for offset := 0; ; offset += pageSize {
		page, err := store.ListPage(ctx, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("FetchAll: page at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// PrepareInsert fills in store-assigned fields that are missing.
func PrepareInsert(tx domain.Transaction, now time.Time) domain.Transaction {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	return tx
}

// SortByCreation orders txs by creation time, breaking ties by ID so the
// result does not depend on the order the store returned rows in.
func SortByCreation(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

// Batches splits items into consecutive chunks of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
