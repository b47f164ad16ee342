// Package memory provides store implementations for development/testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/storage"
)

// JobStore is an in-memory acquire.JobStore. Claim performs the
// compare-and-swap on status under the store lock, so at most one worker
// can ever hold a job in processing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]acquire.Job
	clock acquire.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock acquire.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]acquire.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job acquire.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.Status == "" {
		job.Status = acquire.JobStatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (acquire.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return acquire.Job{}, storage.ErrNotFound
	}
	return job, nil
}

// ClaimJob performs the pending -> processing transition. The claim also
// increments the attempt counter, so every execution is counted exactly
// once.
func (s *JobStore) ClaimJob(_ context.Context, jobID string) (acquire.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return acquire.Job{}, false, storage.ErrNotFound
	}
	if job.Status != acquire.JobStatusPending {
		return acquire.Job{}, false, nil
	}
	now := s.clock.Now()
	job.Status = acquire.JobStatusProcessing
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = pointerTime(now)
	}
	s.jobs[jobID] = job
	return job, true, nil
}

// CompleteJob records a successful result and the terminal timestamp.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, result *acquire.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrInvalidTransition)
	}
	job.Status = acquire.JobStatusCompleted
	job.Result = result
	job.ErrorCode = ""
	job.ErrorText = ""
	if result != nil {
		job.Profile = result.Metadata.ProfileUsed
		job.LastPath = result.Metadata.PathUsed
	}
	job.CompletedAt = pointerTime(s.clock.Now())
	s.jobs[jobID] = job
	return nil
}

// FailJob records a failure. Non-terminal failures return the job to
// pending with the supplied not-before timestamp so backoff is honored.
func (s *JobStore) FailJob(
	_ context.Context,
	jobID string,
	code acquire.Code,
	reason string,
	terminal bool,
	notBefore time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrInvalidTransition)
	}
	job.ErrorCode = string(code)
	job.ErrorText = reason
	if terminal {
		job.Status = acquire.JobStatusFailed
		job.CompletedAt = pointerTime(s.clock.Now())
	} else {
		job.Status = acquire.JobStatusPending
		job.NotBefore = notBefore
	}
	s.jobs[jobID] = job
	return nil
}

// SetAttemptContext records which profile and path the latest attempt used,
// feeding rotation on the next pickup.
func (s *JobStore) SetAttemptContext(_ context.Context, jobID, profileName, pathKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	job.Profile = profileName
	job.LastPath = pathKey
	if pathKey != "" && !slices.Contains(job.UsedPaths, pathKey) {
		job.UsedPaths = append(job.UsedPaths, pathKey)
	}
	s.jobs[jobID] = job
	return nil
}

// CountByStatus aggregates jobs per lifecycle state. Pure read.
func (s *JobStore) CountByStatus(_ context.Context) (acquire.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := acquire.StatusCounts{}
	for _, job := range s.jobs {
		counts.Total++
		switch job.Status {
		case acquire.JobStatusPending:
			counts.Pending++
		case acquire.JobStatusProcessing:
			counts.Processing++
		case acquire.JobStatusCompleted:
			counts.Completed++
		case acquire.JobStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
