package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-backup/internal/backup"
	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/logger"
)

// Maintainer runs the ledger operations jobs map to.
// *backup.Orchestrator implements it.
type Maintainer interface {
	Backup(ctx context.Context, description string) backup.BackupResult
	CheckIntegrity(ctx context.Context) (domain.IntegrityReport, error)
	Cleanup(ctx context.Context) dedup.CleanupResult
}

// NewHandler returns a JobHandler dispatching jobs to m. Operations that
// report failure in their result are returned as errors so the queue
// retries them; a skipped concurrent run counts as success.
func NewHandler(m Maintainer) JobHandler {
	return func(ctx context.Context, job *MaintenanceJob) error {
		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id":   job.JobID,
			"job_type": string(job.Type),
		})

		switch job.Type {
		case JobTypeIntegrityCheck:
			report, err := m.CheckIntegrity(ctx)
			if err != nil {
				return fmt.Errorf("integrity check: %w", err)
			}
			job.Result = report
			if !report.Passed {
				log.Warn().Int("issues", len(report.Issues)).Msg("Scheduled integrity check found issues")
			}
			return nil

		case JobTypeBackup:
			res := m.Backup(ctx, job.Description)
			job.Result = res
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil

		case JobTypeCleanup:
			res := m.Cleanup(ctx)
			job.Result = res
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil

		default:
			return fmt.Errorf("unknown job type %q", job.Type)
		}
	}
}

// Ensure *backup.Orchestrator implements Maintainer.
var _ Maintainer = (*backup.Orchestrator)(nil)
