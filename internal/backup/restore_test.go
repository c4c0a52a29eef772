package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/infra/memory"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/dvloznov/finance-backup/internal/snapshot"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentKeys(t *testing.T, store ledger.Store) map[domain.ContentKey]int {
	t.Helper()
	all, err := ledger.FetchAll(context.Background(), store, 0)
	require.NoError(t, err)
	keys := map[domain.ContentKey]int{}
	for _, tx := range all {
		keys[tx.ContentKey()]++
	}
	return keys
}

func backupOf(t *testing.T, f *fixture) string {
	t.Helper()
	res := f.orch.Backup(context.Background(), "")
	require.True(t, res.Success, res.Message)
	return res.Snapshot.ID
}

func TestRestore_MergeIsNonDestructive(t *testing.T) {
	f := newFixture(t, Options{})
	txs := makeTxs(0, 30)
	f.store.Seed(txs...)
	id := backupOf(t, f)

	// Same content under fresh IDs: every snapshot row conflicts by content.
	require.NoError(t, f.store.DeleteAll(context.Background()))
	for _, tx := range txs {
		tx.ID = "copy-" + tx.ID
		f.store.Seed(tx)
	}

	res := f.orch.Restore(context.Background(), id, RestoreOptions{Policy: domain.PolicyMerge})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, res.TransactionsRestored)
	assert.Equal(t, len(txs), res.ConflictsResolved)
	assert.Equal(t, len(txs), f.store.Len())
}

func TestRestore_MergeInsertsOnlyAbsent(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 10)...)
	id := backupOf(t, f)

	ctx := context.Background()
	require.NoError(t, f.store.DeleteBatch(ctx, []string{"tx-0002", "tx-0005"}))
	f.store.Seed(makeTxs(50, 3)...)

	for _, policy := range []domain.MergePolicy{domain.PolicyMerge, domain.PolicyMergeNewer} {
		res := f.orch.Restore(ctx, id, RestoreOptions{Policy: policy})
		require.True(t, res.Success, res.Message)
		if policy == domain.PolicyMerge {
			assert.Equal(t, 2, res.TransactionsRestored)
			assert.Equal(t, 8, res.ConflictsResolved)
		} else {
			assert.Equal(t, 0, res.TransactionsRestored)
			assert.Equal(t, 10, res.ConflictsResolved)
		}
	}
	assert.Equal(t, 13, f.store.Len())
}

func TestRestore_ReplaceIsComplete(t *testing.T) {
	f := newFixture(t, Options{InsertBatchSize: 7})
	snapTxs := makeTxs(0, 25)
	f.store.Seed(snapTxs...)
	id := backupOf(t, f)
	want := contentKeys(t, f.store)

	ctx := context.Background()
	require.NoError(t, f.store.DeleteBatch(ctx, []string{"tx-0001"}))
	f.store.Seed(makeTxs(100, 40)...)

	res := f.orch.Restore(ctx, id, RestoreOptions{Policy: domain.PolicyReplace})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 25, res.TransactionsRestored)
	assert.Equal(t, 0, res.ConflictsResolved)
	assert.Equal(t, 25, f.store.Len())
	assert.Equal(t, want, contentKeys(t, f.store))
	assert.Equal(t, 1, f.recorder.get("restore:replace:success"))
}

func TestRestore_ReplaceStartsNewBaseline(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 5)...)
	id := backupOf(t, f)

	f.store.Seed(makeTxs(5, 20)...)
	_, err := f.orch.CheckIntegrity(context.Background())
	require.NoError(t, err)

	res := f.orch.Restore(context.Background(), id, RestoreOptions{Policy: domain.PolicyReplace})
	require.True(t, res.Success, res.Message)

	report, err := f.orch.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed, report.Issues)
	assert.Empty(t, f.orch.Alerts())
}

func TestRestore_SafetyBackup(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 4)...)
	id := backupOf(t, f)
	f.store.Seed(makeTxs(4, 6)...)

	res := f.orch.Restore(context.Background(), id, RestoreOptions{Policy: domain.PolicyReplace, SafetyBackup: true})
	require.True(t, res.Success, res.Message)
	require.NotEmpty(t, res.SafetyBackupID)

	safety, err := f.orch.Snapshot(context.Background(), res.SafetyBackupID)
	require.NoError(t, err)
	assert.Len(t, safety.Transactions, 10)
	assert.Contains(t, safety.Description, "Safety backup before restoring snapshot "+id)
	assert.Equal(t, 4, f.store.Len())
}

func TestRestore_SafetyBackupFailureAborts(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 4)...)
	id := backupOf(t, f)
	f.store.Seed(makeTxs(4, 2)...)

	snap, err := f.primary.Get(context.Background(), id)
	require.NoError(t, err)
	orch := New(f.store, snapshot.NewFallbackStore(&fixedSnapshot{snap: snap}, nil), Options{Now: fixedClock})

	res := orch.Restore(context.Background(), id, RestoreOptions{Policy: domain.PolicyReplace, SafetyBackup: true})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "safety backup failed")
	assert.Equal(t, 6, f.store.Len(), "nothing mutated")
}

// fixedSnapshot serves one snapshot and refuses writes.
type fixedSnapshot struct {
	snap domain.Snapshot
}

func (s *fixedSnapshot) Save(context.Context, domain.Snapshot) error {
	return errors.New("read-only bucket")
}

func (s *fixedSnapshot) List(context.Context) ([]domain.Snapshot, error) {
	return []domain.Snapshot{s.snap.Summary()}, nil
}

func (s *fixedSnapshot) Get(context.Context, string) (domain.Snapshot, error) {
	return s.snap, nil
}

// flakyStore fails the nth InsertBatch call.
type flakyStore struct {
	*memory.Store
	failOn int
	calls  int
}

func (f *flakyStore) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("write quota exceeded")
	}
	return f.Store.InsertBatch(ctx, txs)
}

func TestRestore_PartialBatchFailure(t *testing.T) {
	store := &flakyStore{Store: memory.NewStoreWithClock(fixedClock), failOn: 3}
	primary := newMemSnapshots()
	orch := New(store, snapshot.NewFallbackStore(primary, nil), Options{Now: fixedClock})

	store.Seed(makeTxs(0, 250)...)
	backup := orch.Backup(context.Background(), "")
	require.True(t, backup.Success)

	res := orch.Restore(context.Background(), backup.Snapshot.ID, RestoreOptions{Policy: domain.PolicyReplace})
	assert.False(t, res.Success)
	assert.Equal(t, 200, res.TransactionsRestored)
	assert.Contains(t, res.Message, "restore stopped after 200 of 250")
	assert.Equal(t, 200, store.Len(), "no rollback")
}

func TestRestore_CancelledBetweenBatches(t *testing.T) {
	f := newFixture(t, Options{InsertBatchSize: 10})
	f.store.Seed(makeTxs(0, 30)...)
	id := backupOf(t, f)
	require.NoError(t, f.store.DeleteAll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	store := &cancellingStore{Store: f.store, cancel: cancel}
	orch := New(store, snapshot.NewFallbackStore(f.primary, nil), Options{Now: fixedClock, InsertBatchSize: 10})

	res := orch.Restore(ctx, id, RestoreOptions{Policy: domain.PolicyMerge})
	assert.False(t, res.Success)
	assert.Equal(t, 10, res.TransactionsRestored)
	assert.Equal(t, 10, f.store.Len())
}

// cancellingStore cancels the context after the first insert batch.
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancellingStore) InsertBatch(ctx context.Context, txs []domain.Transaction) error {
	defer c.cancel()
	return c.Store.InsertBatch(ctx, txs)
}

func TestRestore_UnknownSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	res := f.orch.Restore(context.Background(), "nope", RestoreOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "snapshot nope not found", res.Message)
}

func TestRestore_InvalidPolicy(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 1)...)
	id := backupOf(t, f)

	res := f.orch.Restore(context.Background(), id, RestoreOptions{Policy: "overwrite"})
	assert.False(t, res.Success)
	assert.Equal(t, 1, f.store.Len())
}

func TestAbsentFrom(t *testing.T) {
	current := makeTxs(0, 3)
	sameID := makeTxs(10, 1)[0]
	sameID.ID = current[0].ID
	sameContent := current[1]
	sameContent.ID = "other"
	fresh := makeTxs(20, 1)[0]

	out, conflicts := absentFrom(current, []domain.Transaction{sameID, sameContent, fresh})
	assert.Equal(t, 2, conflicts)
	require.Len(t, out, 1)
	assert.Equal(t, fresh.ID, out[0].ID)
}

func TestLock_HonoursContext(t *testing.T) {
	l := NewLock()
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx))
	assert.False(t, l.TryAcquire())

	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestRestore_RejectsInvalidTransactions(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 2)...)

	txs := makeTxs(10, 3)
	txs[0].Amount = decimal.NewFromInt(-5)
	txs[1].Type = "bogus"
	snap := snapshot.New(txs, "tampered", base)
	require.NoError(t, f.primary.Save(context.Background(), snap))

	res := f.orch.Restore(context.Background(), snap.ID, RestoreOptions{Policy: domain.PolicyReplace})
	assert.False(t, res.Success)
	assert.Zero(t, res.TransactionsRestored)
	assert.True(t, apperr.Is(res.Err, apperr.KindValidation))
	require.Len(t, res.Issues, 2)
	assert.Contains(t, res.Issues[0], "tx-0010: amount: positive")
	assert.Contains(t, res.Issues[1], "tx-0011: type: oneof")
	assert.Contains(t, res.Message, "nothing restored")
	assert.Equal(t, 2, f.store.Len(), "ledger untouched")
	assert.Equal(t, 1, f.recorder.get("restore:replace:failure"))
}

func TestRestoreFromExport_RejectsInvalidTransactions(t *testing.T) {
	f := newFixture(t, Options{})
	bad := makeTxs(0, 1)[0]
	bad.Currency = "usd"

	res := f.orch.RestoreFromExport(context.Background(), domain.ExportFile{Transactions: []domain.Transaction{bad}}, RestoreOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"tx-0000: currency: uppercase"}, res.Issues)
	assert.Zero(t, f.store.Len())
}

func TestRestore_RejectsChecksumMismatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Seed(makeTxs(0, 3)...)

	snap := snapshot.New(makeTxs(0, 3), "", base)
	stored := snap.Checksum
	snap.Transactions[0].Amount = decimal.NewFromInt(999)
	require.NoError(t, f.primary.Save(context.Background(), snap))
	require.NoError(t, f.store.DeleteAll(context.Background()))

	res := f.orch.Restore(context.Background(), snap.ID, RestoreOptions{Policy: domain.PolicyReplace})
	assert.False(t, res.Success)
	assert.True(t, apperr.Is(res.Err, apperr.KindValidation))
	assert.Contains(t, res.Message, "corrupted")
	assert.Contains(t, res.Message, stored)
	assert.Zero(t, res.TransactionsRestored)
	assert.Zero(t, f.store.Len())
}

func TestRestore_UnknownSnapshotErrNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	res := f.orch.Restore(context.Background(), "missing", RestoreOptions{})
	assert.ErrorIs(t, res.Err, apperr.ErrNotFound)
	assert.Equal(t, 1, f.recorder.get("restore:merge:failure"))
}
