// Package dedup finds and removes duplicate transactions and guards inserts
// against accidental double submission.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/dvloznov/finance-backup/internal/logger"
)

const (
	// DefaultDeleteBatchSize bounds the IDs sent per delete request.
	DefaultDeleteBatchSize = 50

	// DefaultWindow is how far back an identical transaction counts as an
	// accidental resubmission.
	DefaultWindow = 5 * time.Minute
)

// Config tunes a Reconciler. Zero values select the defaults.
type Config struct {
	DeleteBatchSize int
	PageSize        int
	Window          time.Duration
	Now             func() time.Time
}

// Locker serializes mutating ledger operations across components.
type Locker interface {
	Acquire(ctx context.Context) error
	Release()
}

// CleanupResult summarizes a bulk duplicate cleanup.
type CleanupResult struct {
	DuplicatesRemoved int    `json:"duplicatesRemoved"`
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Skipped           bool   `json:"skipped,omitempty"`

	// Unresolved counts duplicates left in place because they share their ID
	// with the row that is kept. Deleting by ID would remove both.
	Unresolved int `json:"unresolved,omitempty"`
}

// AccidentalCheck is the outcome of a pre-insert duplicate check.
type AccidentalCheck struct {
	IsDuplicate bool                `json:"isDuplicate"`
	Pending     bool                `json:"pending,omitempty"`
	Existing    *domain.Transaction `json:"existing,omitempty"`
	MinutesAgo  int                 `json:"minutesAgo,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// Reconciler removes content duplicates from a store and tracks in-flight
// inserts so a second identical submission can be rejected immediately.
type Reconciler struct {
	store ledger.Store
	lock  Locker
	cfg   Config

	cleaning atomic.Bool

	mu      sync.Mutex
	pending map[domain.ContentKey]struct{}
}

// NewReconciler creates a Reconciler over store. lock may be nil.
func NewReconciler(store ledger.Store, lock Locker, cfg Config) *Reconciler {
	if cfg.DeleteBatchSize <= 0 {
		cfg.DeleteBatchSize = DefaultDeleteBatchSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = ledger.DefaultPageSize
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		store:   store,
		lock:    lock,
		cfg:     cfg,
		pending: make(map[domain.ContentKey]struct{}),
	}
}

// Cleanup deletes every transaction whose content key already appeared
// earlier in creation order. A second call while one is running returns a
// skipped result. A failing delete batch stops the job; the result carries
// the number already removed.
func (r *Reconciler) Cleanup(ctx context.Context) CleanupResult {
	log := logger.FromContext(ctx)

	if !r.cleaning.CompareAndSwap(false, true) {
		return CleanupResult{Success: true, Skipped: true, Message: apperr.ErrConcurrent.Error()}
	}
	defer r.cleaning.Store(false)

	if r.lock != nil {
		if err := r.lock.Acquire(ctx); err != nil {
			return CleanupResult{Message: fmt.Sprintf("waiting for ledger lock: %v", err)}
		}
		defer r.lock.Release()
	}

	txs, err := ledger.FetchAll(ctx, r.store, r.cfg.PageSize)
	if err != nil {
		log.Error().Err(err).Msg("Duplicate cleanup: fetch failed")
		return CleanupResult{Message: fmt.Sprintf("fetching transactions: %v", err)}
	}

	plan := planDeletion(txs)
	if plan.shared > 0 {
		log.Warn().Int("unresolved", plan.shared).Msg("Duplicate cleanup: duplicates share an ID with a kept transaction, leaving them in place")
	}
	if len(plan.ids) == 0 {
		res := CleanupResult{Success: true, Message: "no duplicates found", Unresolved: plan.shared}
		if plan.shared > 0 {
			res.Message = unresolvedMessage(plan.shared)
		}
		return res
	}

	total := 0
	for _, n := range plan.rows {
		total += n
	}

	removed := 0
	for i, batch := range ledger.Batches(plan.ids, r.cfg.DeleteBatchSize) {
		if err := ctx.Err(); err != nil {
			return partial(removed, total, plan.shared, apperr.PartialBatchFailure("Cleanup", removed, err))
		}
		if err := r.store.DeleteBatch(ctx, batch); err != nil {
			log.Error().Err(err).Int("batch", i).Int("removed", removed).Msg("Duplicate cleanup: delete batch failed")
			return partial(removed, total, plan.shared, apperr.PartialBatchFailure("Cleanup", removed, err))
		}
		for _, id := range batch {
			removed += plan.rows[id]
		}
	}

	log.Info().Int("removed", removed).Int("scanned", len(txs)).Msg("Duplicate cleanup completed")
	msg := fmt.Sprintf("removed %d duplicate transaction(s)", removed)
	if plan.shared > 0 {
		msg += "; " + unresolvedMessage(plan.shared)
	}
	return CleanupResult{
		DuplicatesRemoved: removed,
		Success:           true,
		Message:           msg,
		Unresolved:        plan.shared,
	}
}

func unresolvedMessage(n int) string {
	return fmt.Sprintf("%d duplicate(s) share an ID with a kept transaction and were left in place", n)
}

func partial(removed, total, unresolved int, err error) CleanupResult {
	return CleanupResult{
		DuplicatesRemoved: removed,
		Unresolved:        unresolved,
		Message:           fmt.Sprintf("removed %d of %d duplicates before failure: %v", removed, total, err),
	}
}

// CheckAccidental reports whether tx looks like an accidental resubmission.
// An intentional duplicate is always allowed.
func (r *Reconciler) CheckAccidental(ctx context.Context, tx domain.Transaction, intentional bool) (AccidentalCheck, error) {
	if intentional {
		return AccidentalCheck{}, nil
	}

	key := tx.ContentKey()
	if !r.markPending(key) {
		return pendingDuplicate(), nil
	}
	defer r.clearPending(key)

	return r.lookupRecent(ctx, key)
}

// SafeInsert runs the accidental-duplicate check and inserts tx when it
// passes. The pending marker covers both the check and the insert, so a
// concurrent identical submission is rejected until the first completes.
func (r *Reconciler) SafeInsert(ctx context.Context, tx domain.Transaction, intentional bool) (domain.Transaction, AccidentalCheck, error) {
	if intentional {
		created, err := r.store.Insert(ctx, tx)
		return created, AccidentalCheck{}, err
	}

	key := tx.ContentKey()
	if !r.markPending(key) {
		return domain.Transaction{}, pendingDuplicate(), apperr.ErrAccidentalDuplicate
	}
	defer r.clearPending(key)

	check, err := r.lookupRecent(ctx, key)
	if err != nil {
		return domain.Transaction{}, check, err
	}
	if check.IsDuplicate {
		return domain.Transaction{}, check, apperr.ErrAccidentalDuplicate
	}

	created, err := r.store.Insert(ctx, tx)
	if err != nil {
		return domain.Transaction{}, check, fmt.Errorf("SafeInsert: %w", err)
	}
	return created, check, nil
}

func (r *Reconciler) lookupRecent(ctx context.Context, key domain.ContentKey) (AccidentalCheck, error) {
	now := r.cfg.Now()
	matches, err := r.store.FindByContent(ctx, key, now.Add(-r.cfg.Window))
	if err != nil {
		return AccidentalCheck{}, apperr.StorageFailure("CheckAccidental", err)
	}
	if len(matches) == 0 {
		return AccidentalCheck{}, nil
	}

	// Report the most recent match.
	latest := matches[len(matches)-1]
	minutes := int(now.Sub(latest.CreatedAt).Minutes())
	return AccidentalCheck{
		IsDuplicate: true,
		Existing:    &latest,
		MinutesAgo:  minutes,
		Message:     fmt.Sprintf("an identical transaction was added %d minute(s) ago", minutes),
	}, nil
}

func pendingDuplicate() AccidentalCheck {
	return AccidentalCheck{
		IsDuplicate: true,
		Pending:     true,
		Message:     "an identical transaction is already being saved",
	}
}

// markPending records key as in flight. It returns false if it already was.
func (r *Reconciler) markPending(key domain.ContentKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[key]; ok {
		return false
	}
	r.pending[key] = struct{}{}
	return true
}

func (r *Reconciler) clearPending(key domain.ContentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}

// PendingCount returns the number of in-flight insert checks.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
