package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/jobs"
)

// defaultHistory bounds how many finished jobs the store keeps.
const defaultHistory = 500

// Store is an in-memory implementation of JobStore.
// It stores jobs in memory and is safe for concurrent use.
// Once more than the history limit is stored, the oldest finished jobs are
// dropped.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobs.MaintenanceJob
	history int
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*jobs.MaintenanceJob),
		history: defaultHistory,
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.MaintenanceJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Create a copy to avoid external modifications
	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	s.trim()

	return nil
}

// trim drops the oldest finished jobs beyond the history limit.
func (s *Store) trim() {
	if len(s.jobs) <= s.history {
		return
	}
	finished := make([]*jobs.MaintenanceJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status == jobs.JobStatusCompleted || job.Status == jobs.JobStatusFailed {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, job := range finished {
		if len(s.jobs) <= s.history {
			return
		}
		delete(s.jobs, job.JobID)
	}
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.MaintenanceJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.MaintenanceJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.MaintenanceJob{}

	for _, job := range s.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.MaintenanceJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	return nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
