// Package snapshot stores immutable captures of the transaction ledger.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/integrity"
	"github.com/google/uuid"
)

// Store persists snapshots.
type Store interface {
	// Save writes snap. Snapshots are immutable once saved.
	Save(ctx context.Context, snap domain.Snapshot) error

	// List returns snapshot summaries, newest first. Transactions are not loaded.
	List(ctx context.Context) ([]domain.Snapshot, error)

	// Get loads a full snapshot, or returns apperr.ErrNotFound.
	Get(ctx context.Context, id string) (domain.Snapshot, error)
}

// New captures txs as a snapshot taken at now.
func New(txs []domain.Transaction, description string, now time.Time) domain.Snapshot {
	captured := make([]domain.Transaction, len(txs))
	copy(captured, txs)

	if description == "" {
		description = DefaultDescription(len(captured))
	}

	return domain.Snapshot{
		ID:               uuid.NewString(),
		Transactions:     captured,
		Timestamp:        now.UTC().Round(0),
		Version:          domain.SnapshotVersion,
		Description:      description,
		Checksum:         integrity.Checksum(captured),
		TransactionCount: len(captured),
	}
}

// DefaultDescription is used for backups created without a description.
func DefaultDescription(count int) string {
	return fmt.Sprintf("Automatic backup - %d transactions", count)
}

// sortNewestFirst orders snapshots by timestamp descending, then by ID.
func sortNewestFirst(snaps []domain.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].Timestamp.Equal(snaps[j].Timestamp) {
			return snaps[i].Timestamp.After(snaps[j].Timestamp)
		}
		return snaps[i].ID > snaps[j].ID
	})
}
