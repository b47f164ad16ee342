// Package scheduler runs the worker pool that drains the priority queue
// and drives job attempts to a terminal status.
package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/metrics"
	"github.com/veilhq/stealthcrawler/internal/orchestrator"
)

// Executor runs one attempt for a claimed job.
type Executor interface {
	Execute(ctx context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error)
}

// Config controls pool size, retry limits and backoff shape.
type Config struct {
	Workers             int
	MaxAttempts         int
	DefaultStealthLevel int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.DefaultStealthLevel <= 0 {
		c.DefaultStealthLevel = 2
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 2 * time.Minute
	}
	return c
}

// Scheduler owns job admission and the retry loop.
type Scheduler struct {
	cfg      Config
	queue    acquire.Queue
	store    acquire.JobStore
	executor Executor
	clock    acquire.Clock
	ids      acquire.IDGenerator
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(
	cfg Config,
	queue acquire.Queue,
	store acquire.JobStore,
	executor Executor,
	clock acquire.Clock,
	ids acquire.IDGenerator,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		queue:    queue,
		store:    store,
		executor: executor,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Enqueue validates the target, persists a pending job and queues it.
// Malformed targets are rejected here so they never consume a retry.
func (s *Scheduler) Enqueue(ctx context.Context, rawURL string, priority acquire.Priority, stealthLevel int) (acquire.Job, error) {
	if err := validateTarget(rawURL); err != nil {
		return acquire.Job{}, err
	}
	if priority == "" {
		priority = acquire.PriorityMedium
	}
	if !priority.Valid() {
		return acquire.Job{}, acquire.NewError(acquire.CodeInvalidTarget,
			fmt.Sprintf("unknown priority %q", priority))
	}
	if stealthLevel <= 0 {
		stealthLevel = s.cfg.DefaultStealthLevel
	}

	id, err := s.ids.NewID()
	if err != nil {
		return acquire.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := acquire.Job{
		ID:           id,
		URL:          rawURL,
		Priority:     priority,
		MaxAttempts:  s.cfg.MaxAttempts,
		StealthLevel: stealthLevel,
		Status:       acquire.JobStatusPending,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return acquire.Job{}, fmt.Errorf("persist job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, acquire.QueueItem{
		JobID:     job.ID,
		Priority:  job.Priority,
		Submitted: s.clock.Now().UnixNano(),
	}); err != nil {
		return acquire.Job{}, fmt.Errorf("queue job: %w", err)
	}
	s.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("priority", string(job.Priority)),
	)
	return job, nil
}

// Cancel moves a non-terminal job to failed. Queued entries are skipped at
// claim time, so no queue surgery is needed.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.store.FailJob(ctx, jobID, "", "canceled by caller", true, time.Time{})
}

// Run starts the worker pool and blocks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		item, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		s.processItem(ctx, item)
	}
}

func (s *Scheduler) processItem(ctx context.Context, item acquire.QueueItem) {
	job, claimed, err := s.store.ClaimJob(ctx, item.JobID)
	if err != nil {
		s.logger.Error("claim failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if !claimed {
		// Canceled, completed elsewhere, or lost the race.
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	s.logger.Debug("executing job",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
	)

	result, attempt, err := s.executor.Execute(ctx, job)
	if attempt.ProfileName != "" || attempt.PathKey != "" {
		if recErr := s.store.SetAttemptContext(ctx, job.ID, attempt.ProfileName, attempt.PathKey); recErr != nil {
			s.logger.Warn("attempt context record failed", zap.String("job_id", job.ID), zap.Error(recErr))
		}
	}
	if err != nil {
		s.handleFailure(ctx, job, err)
		return
	}

	if err := s.store.CompleteJob(ctx, job.ID, result); err != nil {
		s.logger.Error("complete failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(acquire.JobStatusCompleted))
	s.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.String("profile", attempt.ProfileName),
		zap.String("path", attempt.PathKey),
	)
}

func (s *Scheduler) handleFailure(ctx context.Context, job acquire.Job, cause error) {
	if ctx.Err() != nil {
		// Shutdown, not a job outcome. Return the claim so a restart can
		// pick the job up again.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.FailJob(shutdownCtx, job.ID, acquire.CodeNavigationTimeout,
			"worker shut down mid-attempt", false, s.clock.Now()); err != nil {
			s.logger.Error("requeue on shutdown failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	code := acquire.CodeOf(cause)
	terminal := !code.Retryable() || job.Attempts >= job.MaxAttempts
	notBefore := s.clock.Now().Add(s.backoff(job.Attempts))

	if err := s.store.FailJob(ctx, job.ID, code, cause.Error(), terminal, notBefore); err != nil {
		s.logger.Error("fail record failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if terminal {
		metrics.ObserveJob(string(acquire.JobStatusFailed))
		s.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("code", string(code)),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause),
		)
		return
	}

	metrics.ObserveJob("retried")
	s.logger.Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.String("code", string(code)),
		zap.Int("attempt", job.Attempts),
		zap.Time("not_before", notBefore),
	)
	if err := s.queue.Enqueue(ctx, acquire.QueueItem{
		JobID:     job.ID,
		Priority:  job.Priority,
		NotBefore: notBefore,
		Submitted: s.clock.Now().UnixNano(),
	}); err != nil {
		s.logger.Error("requeue failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// backoff doubles per attempt from the base, capped.
func (s *Scheduler) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	return d
}

// Stats aggregates job counts for the service surface.
func (s *Scheduler) Stats(ctx context.Context) (acquire.StatusCounts, error) {
	return s.store.CountByStatus(ctx)
}

func validateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return acquire.WrapError(acquire.CodeInvalidTarget, "unparseable url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return acquire.NewError(acquire.CodeInvalidTarget,
			fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return acquire.NewError(acquire.CodeInvalidTarget, "missing host")
	}
	return nil
}
