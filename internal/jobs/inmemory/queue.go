package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-backup/internal/jobs"
	"github.com/dvloznov/finance-backup/internal/logger"
	"github.com/google/uuid"
)

// QueueOptions tunes a Queue. Zero values select the defaults.
type QueueOptions struct {
	// BufferSize is how many jobs can wait before Publish blocks.
	BufferSize int
	// Workers is the number of jobs processed concurrently.
	Workers int
	// RetryBackoff is multiplied by the retry count before a failed job is
	// queued again.
	RetryBackoff time.Duration
	// MaxRetries applies to jobs published without their own limit.
	MaxRetries int
}

const (
	defaultBufferSize   = 100
	defaultWorkers      = 5
	defaultRetryBackoff = time.Second
	defaultMaxRetries   = 3
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.MaintenanceJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      QueueOptions
	closed    bool
}

// NewQueue creates a new in-memory job queue with default options.
func NewQueue(bufferSize int, store jobs.JobStore) *Queue {
	return NewQueueWithOptions(QueueOptions{BufferSize: bufferSize}, store)
}

// NewQueueWithOptions creates a new in-memory job queue.
func NewQueueWithOptions(opts QueueOptions, store jobs.JobStore) *Queue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Queue{
		jobChan:   make(chan *jobs.MaintenanceJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
	}
}

// Publish implements the Publisher interface.
// It enqueues a maintenance job for asynchronous processing.
func (q *Queue) Publish(ctx context.Context, job *jobs.MaintenanceJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if !job.Type.Valid() {
		return fmt.Errorf("unknown job type %q", job.Type)
	}

	// Generate job ID if not provided
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}

	// Set initial status and timestamp
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Enqueue job with context cancellation support
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts consuming jobs from the queue and processes them using the provided handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.MaintenanceJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		if q.store != nil {
			_ = q.store.SaveJob(ctx, job)
		}
		return
	}

	job.Error = err.Error()
	if job.RetryCount >= job.MaxRetries {
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Str("job_id", job.JobID).Str("job_type", string(job.Type)).Msg("Job failed")
		if q.store != nil {
			_ = q.store.SaveJob(ctx, job)
		}
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	log.Warn().Err(err).Str("job_id", job.JobID).Int("retry", job.RetryCount).Msg("Job failed, retrying")
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	// Re-enqueue with linear backoff
	backoff := time.Duration(job.RetryCount) * q.opts.RetryBackoff
	retry := *job
	time.AfterFunc(backoff, func() {
		retry.Status = jobs.JobStatusPending
		retry.StartedAt = nil
		retry.CompletedAt = nil
		if err := q.Publish(ctx, &retry); err != nil {
			log.Error().Err(err).Str("job_id", retry.JobID).Msg("Failed to requeue job")
		}
	})
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
