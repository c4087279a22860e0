package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/askmaven/internal/core"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]core.JobRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]core.JobRecord)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job core.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob fetches a job by ID within scope.
func (s *JobStore) GetJob(_ context.Context, jobID string, scope core.Scope) (core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok || !scope.Allows(job.OwnerID) {
		return core.JobRecord{}, core.ErrNotFound
	}
	return copyJob(job), nil
}

// SaveProgress overwrites the remote-owned fields of a job.
func (s *JobStore) SaveProgress(_ context.Context, jobID string, st core.RemoteJobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return core.ErrNotFound
	}
	s.jobs[jobID] = copyJob(job.Apply(st))
	return nil
}

// ListJobs returns the jobs visible in scope, newest first.
func (s *JobStore) ListJobs(_ context.Context, scope core.Scope) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.JobRecord, 0, len(s.jobs))
	for _, job := range s.jobs {
		if scope.Allows(job.OwnerID) {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListActiveJobs returns up to limit non-terminal jobs, oldest first.
func (s *JobStore) ListActiveJobs(_ context.Context, limit int) ([]core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.JobRecord, 0)
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// copyJob detaches the LastScrapedAt pointer from the caller's copy.
func copyJob(job core.JobRecord) core.JobRecord {
	if job.LastScrapedAt != nil {
		ts := *job.LastScrapedAt
		job.LastScrapedAt = &ts
	}
	return job
}
