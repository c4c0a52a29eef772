package backup

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Lock serializes mutating ledger operations: backups, restores and
// duplicate cleanups hold it for their whole run.
type Lock struct {
	sem *semaphore.Weighted
}

// NewLock creates an unlocked Lock.
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	return nil
}

// TryAcquire takes the lock only if it is free.
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release frees the lock.
func (l *Lock) Release() {
	l.sem.Release(1)
}
