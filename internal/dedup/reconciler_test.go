package dedup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/infra/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func tx(id, category string, amount int64, date civil.Date, created time.Time) domain.Transaction {
	typ := domain.TypeExpense
	if category == "salary" {
		typ = domain.TypeIncome
	}
	return domain.Transaction{
		ID:          id,
		Type:        typ,
		Amount:      decimal.NewFromInt(amount),
		Currency:    "USD",
		Category:    category,
		Description: category,
		Date:        date,
		CreatedAt:   created,
	}
}

func day(d int) civil.Date { return civil.Date{Year: 2024, Month: 1, Day: d} }

// failingStore fails DeleteBatch from the failAt-th call on and can block
// FindByContent until released.
type failingStore struct {
	*memory.Store
	mu      sync.Mutex
	deletes int
	failAt  int
	findErr error
	block   chan struct{}
	entered chan struct{}
}

func (f *failingStore) DeleteBatch(ctx context.Context, ids []string) error {
	f.mu.Lock()
	f.deletes++
	n := f.deletes
	f.mu.Unlock()
	if f.failAt > 0 && n >= f.failAt {
		return errors.New("network error")
	}
	return f.Store.DeleteBatch(ctx, ids)
}

func (f *failingStore) FindByContent(ctx context.Context, key domain.ContentKey, since time.Time) ([]domain.Transaction, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Store.FindByContent(ctx, key, since)
}

func TestCleanup_EndToEndScenario(t *testing.T) {
	store := memory.NewStore()
	store.Seed(
		tx("t1", "salary", 1000, day(1), base),
		tx("t2", "rent", 500, day(2), base.Add(time.Minute)),
		tx("t3", "salary", 1000, day(1), base.Add(2*time.Minute)),
	)

	r := NewReconciler(store, nil, Config{})
	result := r.Cleanup(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DuplicatesRemoved)
	assert.Equal(t, 2, store.Len())

	remaining, err := store.ListPage(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "t1", remaining[0].ID, "the earliest occurrence is kept")
	assert.Equal(t, "t2", remaining[1].ID)
}

func TestFindDuplicates_OrderIndependent(t *testing.T) {
	var txs []domain.Transaction
	for i := 0; i < 30; i++ {
		// Ten distinct contents, each appearing three times.
		txs = append(txs, tx(fmt.Sprintf("t%02d", i), "food", int64(i%10), day(1+i%10), base.Add(time.Duration(i)*time.Second)))
	}

	keysOf := func(dups []domain.Transaction) []string {
		out := make([]string, len(dups))
		for i, d := range dups {
			out[i] = d.ID
		}
		sort.Strings(out)
		return out
	}

	want := keysOf(FindDuplicates(txs))
	assert.Len(t, want, 20)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]domain.Transaction(nil), txs...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, keysOf(FindDuplicates(shuffled)))
	}
}

func TestCleanup_PartialBatchFailure(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), failAt: 3}
	for i := 0; i < 120; i++ {
		store.Seed(tx(fmt.Sprintf("t%03d", i), "food", 5, day(1), base.Add(time.Duration(i)*time.Second)))
	}

	r := NewReconciler(store, nil, Config{DeleteBatchSize: 50})
	result := r.Cleanup(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 100, result.DuplicatesRemoved)
	assert.Contains(t, result.Message, "removed 100 of 119")
	assert.Equal(t, 20, store.Len())
}

func TestCleanup_NoDuplicates(t *testing.T) {
	store := memory.NewStore()
	store.Seed(tx("t1", "food", 1, day(1), base), tx("t2", "food", 2, day(1), base))

	result := NewReconciler(store, nil, Config{}).Cleanup(context.Background())
	assert.True(t, result.Success)
	assert.Zero(t, result.DuplicatesRemoved)
}

func TestCleanup_SingleFlight(t *testing.T) {
	r := NewReconciler(memory.NewStore(), nil, Config{})
	r.cleaning.Store(true)

	result := r.Cleanup(context.Background())
	assert.True(t, result.Skipped)
	assert.True(t, result.Success)
	assert.Zero(t, result.DuplicatesRemoved)
}

func TestCheckAccidental_Window(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantDup bool
	}{
		{"four minutes apart", 4 * time.Minute, true},
		{"six minutes apart", 6 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := base.Add(time.Hour)
			store := memory.NewStore()
			first := tx("t1", "food", 30, day(5), now.Add(-tt.age))
			store.Seed(first)

			r := NewReconciler(store, nil, Config{Now: func() time.Time { return now }})
			second := first
			second.ID = ""

			check, err := r.CheckAccidental(context.Background(), second, false)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDup, check.IsDuplicate)
			if tt.wantDup {
				assert.Equal(t, 4, check.MinutesAgo)
				assert.Equal(t, "t1", check.Existing.ID)
			}
			assert.Zero(t, r.PendingCount())
		})
	}
}

func TestCheckAccidental_IntentionalBypasses(t *testing.T) {
	now := base
	store := memory.NewStore()
	existing := tx("t1", "food", 30, day(5), now)
	store.Seed(existing)

	r := NewReconciler(store, nil, Config{Now: func() time.Time { return now }})
	check, err := r.CheckAccidental(context.Background(), existing, true)
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)

	created, _, err := r.SafeInsert(context.Background(), domain.Transaction{
		Type: existing.Type, Amount: existing.Amount, Currency: existing.Currency,
		Category: existing.Category, Description: existing.Description, Date: existing.Date,
	}, true)
	require.NoError(t, err)
	assert.NotEqual(t, "t1", created.ID)
	assert.Equal(t, 2, store.Len())
}

func TestCheckAccidental_PendingRejectedWithoutStoreCall(t *testing.T) {
	store := &failingStore{
		Store:   memory.NewStore(),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r := NewReconciler(store, nil, Config{})
	candidate := tx("", "food", 12, day(3), time.Time{})

	done := make(chan AccidentalCheck)
	go func() {
		check, _ := r.CheckAccidental(context.Background(), candidate, false)
		done <- check
	}()
	<-store.entered

	// The first check is parked inside the store; the second must not reach it.
	second, err := r.CheckAccidental(context.Background(), candidate, false)
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.True(t, second.Pending)

	close(store.block)
	first := <-done
	assert.False(t, first.IsDuplicate)
	assert.Zero(t, r.PendingCount())
}

func TestCheckAccidental_PendingClearedOnError(t *testing.T) {
	store := &failingStore{Store: memory.NewStore(), findErr: errors.New("unreachable")}
	r := NewReconciler(store, nil, Config{})
	candidate := tx("", "food", 12, day(3), time.Time{})

	_, err := r.CheckAccidental(context.Background(), candidate, false)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
	assert.Zero(t, r.PendingCount())

	_, _, err = r.SafeInsert(context.Background(), candidate, false)
	assert.Error(t, err)
	assert.Zero(t, r.PendingCount())
}

func TestSafeInsert_BlocksRecentDuplicate(t *testing.T) {
	clock := base
	store := memory.NewStoreWithClock(func() time.Time { return clock })
	r := NewReconciler(store, nil, Config{Now: func() time.Time { return clock }})
	candidate := tx("", "food", 12, day(3), time.Time{})

	_, check, err := r.SafeInsert(context.Background(), candidate, false)
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)

	clock = clock.Add(2 * time.Minute)
	_, check, err = r.SafeInsert(context.Background(), candidate, false)
	assert.ErrorIs(t, err, apperr.ErrAccidentalDuplicate)
	assert.Equal(t, 2, check.MinutesAgo)
	assert.Equal(t, 1, store.Len())
}

// rowStore keeps rows in a slice, so two rows may share an ID. DeleteBatch
// removes every row carrying a listed ID, the way a DML delete does.
type rowStore struct {
	*memory.Store
	mu   sync.Mutex
	rows []domain.Transaction
}

func (s *rowStore) ListPage(_ context.Context, offset, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return append([]domain.Transaction(nil), s.rows[offset:end]...), nil
}

func (s *rowStore) DeleteBatch(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.rows[:0]
	for _, row := range s.rows {
		if _, ok := drop[row.ID]; !ok {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

func TestCleanup_KeepsRowSharingIDWithDuplicate(t *testing.T) {
	original := tx("a", "food", 7, day(4), base)
	store := &rowStore{
		Store: memory.NewStore(),
		rows: []domain.Transaction{
			original,
			original,
			tx("b", "rent", 500, day(2), base.Add(time.Minute)),
			tx("c", "rent", 500, day(2), base.Add(2*time.Minute)),
		},
	}

	result := NewReconciler(store, nil, Config{}).Cleanup(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DuplicatesRemoved)
	assert.Equal(t, 1, result.Unresolved)
	assert.Contains(t, result.Message, "left in place")

	ids := make([]string, len(store.rows))
	for i, row := range store.rows {
		ids[i] = row.ID
	}
	assert.Equal(t, []string{"a", "a", "b"}, ids)
}

func TestCleanup_OnlySharedIDDuplicates(t *testing.T) {
	original := tx("a", "food", 7, day(4), base)
	store := &rowStore{Store: memory.NewStore(), rows: []domain.Transaction{original, original}}

	result := NewReconciler(store, nil, Config{}).Cleanup(context.Background())

	assert.True(t, result.Success)
	assert.Zero(t, result.DuplicatesRemoved)
	assert.Equal(t, 1, result.Unresolved)
	assert.Len(t, store.rows, 2)
}

func TestPlanDeletion_CountsRowsPerID(t *testing.T) {
	first := tx("k", "food", 3, day(5), base)
	again := tx("d", "food", 3, day(5), base.Add(time.Minute))

	plan := planDeletion([]domain.Transaction{first, again, again})
	assert.Equal(t, []string{"d"}, plan.ids)
	assert.Equal(t, 2, plan.rows["d"])
	assert.Zero(t, plan.shared)
}
