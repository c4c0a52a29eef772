package jobs

import (
	"context"
	"time"

	"github.com/dvloznov/finance-backup/internal/logger"
)

const (
	// DefaultCheckInterval is how often the scheduler queues an integrity check.
	DefaultCheckInterval = 5 * time.Minute

	// DefaultBackupInterval is how often the scheduler queues a backup.
	DefaultBackupInterval = 15 * time.Minute

	publishTimeout = 5 * time.Second
)

// Scheduler queues integrity checks and backups on fixed intervals. Each
// tick only publishes a job; a slow or failing job never delays the next
// tick.
type Scheduler struct {
	publisher      Publisher
	checkInterval  time.Duration
	backupInterval time.Duration
}

// NewScheduler creates a Scheduler. Non-positive intervals select the
// defaults.
func NewScheduler(publisher Publisher, checkInterval, backupInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if backupInterval <= 0 {
		backupInterval = DefaultBackupInterval
	}
	return &Scheduler{
		publisher:      publisher,
		checkInterval:  checkInterval,
		backupInterval: backupInterval,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.WithComponent(logger.FromContext(ctx), "scheduler")
	log.Info().
		Dur("check_interval", s.checkInterval).
		Dur("backup_interval", s.backupInterval).
		Msg("Scheduler started")

	checks := time.NewTicker(s.checkInterval)
	defer checks.Stop()
	backups := time.NewTicker(s.backupInterval)
	defer backups.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-checks.C:
			s.publish(ctx, JobTypeIntegrityCheck)
		case <-backups.C:
			s.publish(ctx, JobTypeBackup)
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, jobType JobType) {
	log := logger.FromContext(ctx)

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	job := &MaintenanceJob{Type: jobType, Trigger: TriggerSchedule}
	if err := s.publisher.Publish(pctx, job); err != nil {
		log.Error().Err(err).Str("job_type", string(jobType)).Msg("Failed to queue scheduled job")
		return
	}
	log.Debug().Str("job_id", job.JobID).Str("job_type", string(jobType)).Msg("Scheduled job queued")
}
