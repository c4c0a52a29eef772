package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-backup/internal/backup"
	"github.com/dvloznov/finance-backup/internal/dedup"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainer struct {
	backup  backup.BackupResult
	report  domain.IntegrityReport
	err     error
	cleanup dedup.CleanupResult
}

func (f *fakeMaintainer) Backup(context.Context, string) backup.BackupResult { return f.backup }
func (f *fakeMaintainer) CheckIntegrity(context.Context) (domain.IntegrityReport, error) {
	return f.report, f.err
}
func (f *fakeMaintainer) Cleanup(context.Context) dedup.CleanupResult { return f.cleanup }

func TestHandler(t *testing.T) {
	m := &fakeMaintainer{
		backup:  backup.BackupResult{Success: true, Message: "ok"},
		report:  domain.IntegrityReport{Passed: true},
		cleanup: dedup.CleanupResult{Success: false, Message: "delete failed"},
	}
	h := NewHandler(m)
	ctx := context.Background()

	job := &MaintenanceJob{Type: JobTypeBackup}
	require.NoError(t, h(ctx, job))
	assert.Equal(t, m.backup, job.Result)

	job = &MaintenanceJob{Type: JobTypeIntegrityCheck}
	require.NoError(t, h(ctx, job))
	assert.Equal(t, m.report, job.Result)

	job = &MaintenanceJob{Type: JobTypeCleanup}
	assert.EqualError(t, h(ctx, job), "delete failed")

	m.err = errors.New("store down")
	assert.Error(t, h(ctx, &MaintenanceJob{Type: JobTypeIntegrityCheck}))
	assert.Error(t, h(ctx, &MaintenanceJob{Type: "reindex"}))
}

func TestHandler_SkippedBackupIsSuccess(t *testing.T) {
	h := NewHandler(&fakeMaintainer{backup: backup.BackupResult{Success: true, Skipped: true}})
	assert.NoError(t, h(context.Background(), &MaintenanceJob{Type: JobTypeBackup}))
}

// recordingPublisher collects published job types.
type recordingPublisher struct {
	mu    sync.Mutex
	types []JobType
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, job *MaintenanceJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, job.Type)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(t JobType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, got := range p.types {
		if got == t {
			n++
		}
	}
	return n
}

func TestScheduler_PublishesOnBothIntervals(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewScheduler(pub, 10*time.Millisecond, 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return pub.count(JobTypeIntegrityCheck) >= 3 && pub.count(JobTypeBackup) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestScheduler_KeepsTickingAfterFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue full")}
	s := NewScheduler(pub, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return pub.count(JobTypeIntegrityCheck) >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&recordingPublisher{}, 0, -1)
	assert.Equal(t, DefaultCheckInterval, s.checkInterval)
	assert.Equal(t, DefaultBackupInterval, s.backupInterval)
}

func TestJobTypeValid(t *testing.T) {
	assert.True(t, JobTypeBackup.Valid())
	assert.True(t, JobTypeCleanup.Valid())
	assert.True(t, JobTypeIntegrityCheck.Valid())
	assert.False(t, JobType("parse_document").Valid())
}
