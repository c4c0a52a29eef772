// Package backup drives full-ledger backups and restores, coordinating the
// snapshot store, the integrity checker and the duplicate reconciler.
package backup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/integrity"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/dvloznov/finance-backup/internal/logger"
	"github.com/dvloznov/finance-backup/internal/metrics"
	"github.com/dvloznov/finance-backup/internal/snapshot"
)

const (
	// DefaultInsertBatchSize bounds the rows written per insert request
	// during a restore.
	DefaultInsertBatchSize = 100

	// DefaultAlertCapacity is how many alerts the orchestrator remembers.
	DefaultAlertCapacity = 50
)

// SnapshotStore is a snapshot.Store that reports where a snapshot landed.
type SnapshotStore interface {
	snapshot.Store
	SaveWithPlacement(ctx context.Context, snap domain.Snapshot) (snapshot.Placement, error)
}

// Recorder receives operation outcomes. *metrics.Metrics implements it.
type Recorder interface {
	BackupCompleted(outcome string, d time.Duration)
	RestoreCompleted(policy, outcome string, restored int)
	CleanupCompleted(outcome string, removed int)
	IntegrityChecked(passed bool, count int)
	AlertRaised(severity string)
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	PageSize        int
	InsertBatchSize int
	AlertCapacity   int
	Dedup           dedup.Config

	// Checker is shared with other components that need the same baseline.
	Checker  *integrity.Checker
	Lock     *Lock
	Recorder Recorder
	Now      func() time.Time
}

// BackupResult is the outcome of Backup.
type BackupResult struct {
	Success   bool                    `json:"success"`
	Skipped   bool                    `json:"skipped,omitempty"`
	Message   string                  `json:"message"`
	Snapshot  *domain.Snapshot        `json:"snapshot,omitempty"`
	Placement snapshot.Placement      `json:"placement"`
	Report    *domain.IntegrityReport `json:"report,omitempty"`
	Alert     *domain.Alert           `json:"alert,omitempty"`
}

// Orchestrator creates and restores ledger snapshots. Construct one per
// ledger and share it.
type Orchestrator struct {
	store      ledger.Store
	snapshots  SnapshotStore
	checker    *integrity.Checker
	reconciler *dedup.Reconciler
	lock       *Lock
	recorder   Recorder
	now        func() time.Time

	pageSize        int
	insertBatchSize int

	backingUp atomic.Bool

	mu       sync.Mutex
	alerts   []domain.Alert
	alertCap int
}

// New creates an Orchestrator over store, writing snapshots to snapshots.
func New(store ledger.Store, snapshots SnapshotStore, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = ledger.DefaultPageSize
	}
	if opts.InsertBatchSize <= 0 {
		opts.InsertBatchSize = DefaultInsertBatchSize
	}
	if opts.AlertCapacity <= 0 {
		opts.AlertCapacity = DefaultAlertCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Checker == nil {
		opts.Checker = integrity.NewCheckerWithClock(opts.Now)
	}
	if opts.Lock == nil {
		opts.Lock = NewLock()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Dedup.PageSize <= 0 {
		opts.Dedup.PageSize = opts.PageSize
	}
	if opts.Dedup.Now == nil {
		opts.Dedup.Now = opts.Now
	}

	return &Orchestrator{
		store:           store,
		snapshots:       snapshots,
		checker:         opts.Checker,
		reconciler:      dedup.NewReconciler(store, opts.Lock, opts.Dedup),
		lock:            opts.Lock,
		recorder:        opts.Recorder,
		now:             opts.Now,
		pageSize:        opts.PageSize,
		insertBatchSize: opts.InsertBatchSize,
		alertCap:        opts.AlertCapacity,
	}
}

// Backup captures the whole ledger as a new snapshot. A backup already in
// progress makes this call return a skipped result immediately. An empty
// description selects the default one.
func (o *Orchestrator) Backup(ctx context.Context, description string) BackupResult {
	if !o.backingUp.CompareAndSwap(false, true) {
		o.recorder.BackupCompleted(metrics.OutcomeSkipped, 0)
		return BackupResult{Success: true, Skipped: true, Message: "backup already in progress"}
	}
	defer o.backingUp.Store(false)

	if err := o.lock.Acquire(ctx); err != nil {
		o.recorder.BackupCompleted(metrics.OutcomeFailure, 0)
		return BackupResult{Message: fmt.Sprintf("backup not started: %v", err)}
	}
	defer o.lock.Release()

	return o.backupLocked(ctx, description)
}

// backupLocked runs a backup. The caller holds the ledger lock.
func (o *Orchestrator) backupLocked(ctx context.Context, description string) BackupResult {
	log := logger.FromContext(ctx)
	start := o.now()

	txs, err := ledger.FetchAll(ctx, o.store, o.pageSize)
	if err != nil {
		log.Error().Err(err).Msg("Backup: fetch failed")
		o.recorder.BackupCompleted(metrics.OutcomeFailure, 0)
		return BackupResult{Message: fmt.Sprintf("backup failed while fetching transactions: %v", err)}
	}

	report, alert := o.check(ctx, txs)

	snap := snapshot.New(txs, description, o.now())
	placement, err := o.snapshots.SaveWithPlacement(ctx, snap)
	if err != nil {
		log.Error().Err(err).Str("snapshot_id", snap.ID).Msg("Backup: snapshot not stored")
		o.recorder.BackupCompleted(metrics.OutcomeFailure, 0)
		return BackupResult{
			Message: fmt.Sprintf("backup failed while storing snapshot: %v", err),
			Report:  &report,
			Alert:   alert,
		}
	}

	summary := snap.Summary()
	msg := fmt.Sprintf("backup %s created with %d transactions", snap.ID, snap.TransactionCount)
	outcome := metrics.OutcomeSuccess
	if placement.Degraded() {
		msg += " (primary store unavailable, kept in local cache only)"
		outcome = metrics.OutcomeDegraded
	}
	o.recorder.BackupCompleted(outcome, o.now().Sub(start))

	log.Info().
		Str("snapshot_id", snap.ID).
		Int("count", snap.TransactionCount).
		Bool("degraded", placement.Degraded()).
		Bool("integrity_passed", report.Passed).
		Msg("Backup created")

	return BackupResult{
		Success:   true,
		Message:   msg,
		Snapshot:  &summary,
		Placement: placement,
		Report:    &report,
		Alert:     alert,
	}
}

// CheckIntegrity fetches the ledger and runs every integrity check. Alerts
// are remembered and available from Alerts.
func (o *Orchestrator) CheckIntegrity(ctx context.Context) (domain.IntegrityReport, error) {
	txs, err := ledger.FetchAll(ctx, o.store, o.pageSize)
	if err != nil {
		return domain.IntegrityReport{}, apperr.StorageFailure("CheckIntegrity", err)
	}
	report, _ := o.check(ctx, txs)
	return report, nil
}

func (o *Orchestrator) check(ctx context.Context, txs []domain.Transaction) (domain.IntegrityReport, *domain.Alert) {
	log := logger.FromContext(ctx)
	report, alert := o.checker.Check(txs)
	o.recorder.IntegrityChecked(report.Passed, report.TransactionCount)

	if !report.Passed {
		log.Warn().
			Int("count", report.TransactionCount).
			Strs("issues", report.Issues).
			Msg("Integrity check found issues")
	}
	if alert != nil {
		o.addAlert(*alert)
		o.recorder.AlertRaised(string(alert.Severity))
		log.Error().
			Int("previous_count", alert.PreviousCount).
			Int("count", alert.TransactionCount).
			Msg(alert.Message)
	}
	return report, alert
}

func (o *Orchestrator) addAlert(a domain.Alert) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, a)
	if over := len(o.alerts) - o.alertCap; over > 0 {
		o.alerts = append([]domain.Alert(nil), o.alerts[over:]...)
	}
}

// Alerts returns the remembered alerts, oldest first.
func (o *Orchestrator) Alerts() []domain.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Alert, len(o.alerts))
	copy(out, o.alerts)
	return out
}

// Reset clears remembered alerts and the integrity baseline.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.alerts = nil
	o.mu.Unlock()
	o.checker.Reset()
}

// Snapshots lists stored snapshot summaries, newest first.
func (o *Orchestrator) Snapshots(ctx context.Context) ([]domain.Snapshot, error) {
	return o.snapshots.List(ctx)
}

// Snapshot loads one snapshot with its transactions.
func (o *Orchestrator) Snapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	return o.snapshots.Get(ctx, id)
}

// Cleanup removes content duplicates from the ledger.
func (o *Orchestrator) Cleanup(ctx context.Context) dedup.CleanupResult {
	res := o.reconciler.Cleanup(ctx)
	switch {
	case res.Skipped:
		o.recorder.CleanupCompleted(metrics.OutcomeSkipped, 0)
	case res.Success:
		o.recorder.CleanupCompleted(metrics.OutcomeSuccess, res.DuplicatesRemoved)
	default:
		o.recorder.CleanupCompleted(metrics.OutcomeFailure, res.DuplicatesRemoved)
	}
	return res
}

// AddTransaction inserts tx unless it looks like an accidental resubmission.
func (o *Orchestrator) AddTransaction(ctx context.Context, tx domain.Transaction, intentional bool) (domain.Transaction, dedup.AccidentalCheck, error) {
	if issues := o.checker.Validate(tx); len(issues) > 0 {
		return domain.Transaction{}, dedup.AccidentalCheck{}, apperr.ValidationFailure("AddTransaction", fmt.Errorf("invalid transaction: %v", issues))
	}
	return o.reconciler.SafeInsert(ctx, tx, intentional)
}

type nopRecorder struct{}

func (nopRecorder) BackupCompleted(string, time.Duration) {}
func (nopRecorder) RestoreCompleted(string, string, int) {}
func (nopRecorder) CleanupCompleted(string, int) {}
func (nopRecorder) IntegrityChecked(bool, int) {}
func (nopRecorder) AlertRaised(string) {}

// Ensure *metrics.Metrics implements Recorder.
var _ Recorder = (*metrics.Metrics)(nil)
