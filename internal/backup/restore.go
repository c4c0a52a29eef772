package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/integrity"
	"github.com/dvloznov/finance-backup/internal/ledger"
	"github.com/dvloznov/finance-backup/internal/logger"
	"github.com/dvloznov/finance-backup/internal/metrics"
)

// RestoreOptions selects how a snapshot is applied.
type RestoreOptions struct {
	Policy domain.MergePolicy `json:"policy"`

	// SafetyBackup snapshots the current ledger before anything is changed.
	SafetyBackup bool `json:"safety_backup"`
}

// RestoreResult is the outcome of a restore. TransactionsRestored is exact
// even when the restore stopped partway.
type RestoreResult struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	TransactionsRestored int    `json:"transactionsRestored"`
	ConflictsResolved    int    `json:"conflictsResolved"`
	SafetyBackupID       string `json:"safetyBackupId,omitempty"`

	// Issues lists the invalid transactions that made the restore refuse to
	// start.
	Issues []string `json:"issues,omitempty"`

	// Err classifies a failure. It wraps apperr.ErrNotFound for an unknown
	// snapshot and is an apperr.Error otherwise.
	Err error `json:"-"`
}

// Restore applies the snapshot with the given id to the ledger. A snapshot
// whose content no longer matches its stored checksum is not applied.
func (o *Orchestrator) Restore(ctx context.Context, snapshotID string, opts RestoreOptions) RestoreResult {
	if opts.Policy == "" {
		opts.Policy = domain.PolicyMerge
	}

	snap, err := o.snapshots.Get(ctx, snapshotID)
	if errors.Is(err, apperr.ErrNotFound) {
		return o.restoreFailed(opts.Policy, RestoreResult{Message: fmt.Sprintf("snapshot %s not found", snapshotID), Err: err})
	}
	if err != nil {
		return o.restoreFailed(opts.Policy, RestoreResult{
			Message: fmt.Sprintf("loading snapshot %s: %v", snapshotID, err),
			Err:     apperr.StorageFailure("Restore", err),
		})
	}

	if sum := integrity.Checksum(snap.Transactions); sum != snap.Checksum {
		err := apperr.ValidationFailure("Restore", fmt.Errorf("snapshot %s checksum mismatch: stored %q, computed %q", snapshotID, snap.Checksum, sum))
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("snapshot_id", snapshotID).Msg("Restore: snapshot content does not match its checksum")
		return o.restoreFailed(opts.Policy, RestoreResult{
			Message: fmt.Sprintf("snapshot %s is corrupted, nothing restored: stored checksum %s, computed %s", snapshotID, snap.Checksum, sum),
			Err:     err,
		})
	}
	return o.restore(ctx, "snapshot "+snapshotID, snap.Transactions, opts)
}

// RestoreFromExport applies an imported export file to the ledger.
func (o *Orchestrator) RestoreFromExport(ctx context.Context, file domain.ExportFile, opts RestoreOptions) RestoreResult {
	return o.restore(ctx, "import", file.Transactions, opts)
}

func (o *Orchestrator) restore(ctx context.Context, source string, txs []domain.Transaction, opts RestoreOptions) RestoreResult {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"source": source,
		"policy": string(opts.Policy),
	})

	if opts.Policy == "" {
		opts.Policy = domain.PolicyMerge
	}
	if _, err := domain.ParseMergePolicy(string(opts.Policy)); err != nil {
		return o.restoreFailed(opts.Policy, RestoreResult{Message: err.Error(), Err: apperr.ValidationFailure("Restore", err)})
	}

	if issues := o.checker.ValidateAll(txs); len(issues) > 0 {
		log.Warn().Strs("issues", issues).Msg("Restore: rejected invalid transactions")
		return o.restoreFailed(opts.Policy, RestoreResult{
			Message: fmt.Sprintf("restore rejected, %s holds %d invalid transaction(s), nothing restored", source, len(issues)),
			Issues:  issues,
			Err:     apperr.ValidationFailure("Restore", fmt.Errorf("%d invalid transaction(s) in %s", len(issues), source)),
		})
	}

	if err := o.lock.Acquire(ctx); err != nil {
		return o.restoreFailed(opts.Policy, RestoreResult{Message: fmt.Sprintf("restore not started: %v", err), Err: err})
	}
	defer o.lock.Release()

	var result RestoreResult
	if opts.SafetyBackup {
		safety := o.backupLocked(ctx, fmt.Sprintf("Safety backup before restoring %s", source))
		if !safety.Success {
			result.Message = "restore aborted, safety backup failed: " + safety.Message
			result.Err = apperr.StorageFailure("Restore", errors.New(safety.Message))
			return o.restoreFailed(opts.Policy, result)
		}
		result.SafetyBackupID = safety.Snapshot.ID
	}

	var toInsert []domain.Transaction
	switch opts.Policy {
	case domain.PolicyReplace:
		if err := o.store.DeleteAll(ctx); err != nil {
			log.Error().Err(err).Msg("Restore: clearing ledger failed")
			result.Message = fmt.Sprintf("restore failed while clearing ledger, nothing restored: %v", err)
			result.Err = apperr.StorageFailure("Restore", err)
			return o.restoreFailed(opts.Policy, result)
		}
		toInsert = txs
	default:
		// merge-newer currently resolves conflicts exactly like merge.
		current, err := ledger.FetchAll(ctx, o.store, o.pageSize)
		if err != nil {
			result.Message = fmt.Sprintf("restore failed while reading current ledger: %v", err)
			result.Err = apperr.StorageFailure("Restore", err)
			return o.restoreFailed(opts.Policy, result)
		}
		toInsert, result.ConflictsResolved = absentFrom(current, txs)
	}

	restored, err := o.insertBatches(ctx, toInsert)
	result.TransactionsRestored = restored
	if err != nil {
		result.Err = err
		log.Error().Err(err).Int("restored", restored).Msg("Restore: stopped on failed batch")
		result.Message = fmt.Sprintf("restore stopped after %d of %d transactions: %v", restored, len(toInsert), err)
		if result.SafetyBackupID != "" {
			result.Message += fmt.Sprintf("; safety backup %s holds the previous state", result.SafetyBackupID)
		}
		return o.restoreFailed(opts.Policy, result)
	}

	// The ledger changed on purpose; the next check starts a new baseline.
	o.checker.Reset()

	result.Success = true
	result.Message = fmt.Sprintf("restored %d transaction(s) from %s, %d conflict(s) skipped", restored, source, result.ConflictsResolved)
	o.recorder.RestoreCompleted(string(opts.Policy), metrics.OutcomeSuccess, restored)
	log.Info().Int("restored", restored).Int("conflicts", result.ConflictsResolved).Msg("Restore completed")
	return result
}

func (o *Orchestrator) restoreFailed(policy domain.MergePolicy, result RestoreResult) RestoreResult {
	result.Success = false
	o.recorder.RestoreCompleted(string(policy), metrics.OutcomeFailure, result.TransactionsRestored)
	return result
}

// absentFrom returns the incoming transactions whose id and content key are
// both missing from current, and the number skipped as conflicts.
func absentFrom(current, incoming []domain.Transaction) ([]domain.Transaction, int) {
	ids := make(map[string]struct{}, len(current))
	keys := make(map[domain.ContentKey]struct{}, len(current))
	for _, tx := range current {
		ids[tx.ID] = struct{}{}
		keys[tx.ContentKey()] = struct{}{}
	}

	var out []domain.Transaction
	conflicts := 0
	for _, tx := range incoming {
		_, idTaken := ids[tx.ID]
		_, keyTaken := keys[tx.ContentKey()]
		if (tx.ID != "" && idTaken) || keyTaken {
			conflicts++
			continue
		}
		out = append(out, tx)
	}
	return out, conflicts
}

// insertBatches writes txs in bounded batches, one at a time, and stops at
// the first failure or when ctx is cancelled.
func (o *Orchestrator) insertBatches(ctx context.Context, txs []domain.Transaction) (int, error) {
	inserted := 0
	for i, batch := range ledger.Batches(txs, o.insertBatchSize) {
		if err := ctx.Err(); err != nil {
			return inserted, apperr.PartialBatchFailure("Restore", inserted, err)
		}
		if err := o.store.InsertBatch(ctx, batch); err != nil {
			return inserted, apperr.PartialBatchFailure("Restore", inserted, fmt.Errorf("batch %d: %w", i, err))
		}
		inserted += len(batch)
	}
	return inserted, nil
}
