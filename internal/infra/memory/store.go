// Package memory provides an in-memory ledger.Store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
)

// Store keeps transactions in memory and is safe for concurrent use.
// Data is lost on restart; use the BigQuery or Mongo store for persistence.
type Store struct {
	mu  sync.RWMutex
	txs map[string]domain.Transaction
	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		txs: make(map[string]domain.Transaction),
		now: time.Now,
	}
}

// NewStoreWithClock creates an empty store that stamps CreatedAt using now.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	s.now = now
	return s
}

// Seed inserts txs as-is, keeping their IDs and timestamps.
func (s *Store) Seed(txs ...domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
}

// Len returns the number of stored transactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

// ListPage implements ledger.Store.
func (s *Store) ListPage(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	all := make([]domain.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		all = append(all, tx)
	}
	s.mu.RUnlock()

	ledger.SortByCreation(all)

	if offset >= len(all) {
		return []domain.Transaction{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Insert implements ledger.Store.
func (s *Store) Insert(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx = ledger.PrepareInsert(tx, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return domain.Transaction{}, fmt.Errorf("transaction already exists: %s", tx.ID)
	}
	s.txs[tx.ID] = tx
	return tx, nil
}

// InsertBatch implements ledger.Store. The batch is rejected as a whole if
// any ID is already present.
func (s *Store) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prepared := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		tx = ledger.PrepareInsert(tx, now)
		if _, exists := s.txs[tx.ID]; exists {
			return fmt.Errorf("transaction already exists: %s", tx.ID)
		}
		prepared[i] = tx
	}
	for _, tx := range prepared {
		s.txs[tx.ID] = tx
	}
	return nil
}

// DeleteBatch implements ledger.Store. Unknown IDs are ignored.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.txs, id)
	}
	return nil
}

// DeleteAll implements ledger.Store.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = make(map[string]domain.Transaction)
	return nil
}

// FindByContent implements ledger.Store.
func (s *Store) FindByContent(ctx context.Context, key domain.ContentKey, since time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range s.txs {
		if tx.ContentKey() == key && !tx.CreatedAt.Before(since) {
			out = append(out, tx)
		}
	}
	ledger.SortByCreation(out)
	return out, nil
}

// Ensure Store implements ledger.Store.
var _ ledger.Store = (*Store)(nil)
