// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/storage"
)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// JobStore persists job records in Postgres. Claim semantics rely on a
// conditional UPDATE so only one worker wins the pending -> processing
// transition.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//		id UUID PRIMARY KEY,
//		url TEXT NOT NULL,
//		priority TEXT NOT NULL,
//		attempts INT NOT NULL DEFAULT 0,
//		max_attempts INT NOT NULL,
//		stealth_level INT NOT NULL,
//		profile TEXT NOT NULL DEFAULT '',
//		last_path TEXT NOT NULL DEFAULT '',
//		used_paths TEXT[] NOT NULL DEFAULT '{}',
//		status TEXT NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		completed_at TIMESTAMPTZ,
//		not_before TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
//		result JSONB,
//		error_code TEXT NOT NULL DEFAULT '',
//		error_text TEXT NOT NULL DEFAULT ''
//	);
type JobStore struct {
	pool  pgxPool
	clock acquire.Clock
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig, clock acquire.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxPool, clock acquire.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, url, priority, attempts, max_attempts, stealth_level, profile,
last_path, used_paths, status, created_at, started_at, completed_at, not_before, result,
error_code, error_text`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job acquire.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	usedPaths := job.UsedPaths
	if usedPaths == nil {
		usedPaths = []string{}
	}
	args := []any{
		job.ID, job.URL, string(job.Priority), job.Attempts, job.MaxAttempts,
		job.StealthLevel, job.Profile, job.LastPath, usedPaths, string(job.Status),
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.NotBefore,
		resultJSON, job.ErrorCode, job.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (acquire.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return acquire.Job{}, storage.ErrNotFound
		}
		return acquire.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ClaimJob performs the pending -> processing transition. The conditional
// UPDATE guarantees a single winner when workers race for the same job.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string) (acquire.Job, bool, error) {
	now := s.clock.Now()
	query := `
UPDATE jobs
SET status = 'processing', attempts = attempts + 1, started_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING ` + jobColumns
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return acquire.Job{}, false, nil
		}
		return acquire.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// CompleteJob marks a processing job completed and stores its result.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result *acquire.Result) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}
	profile, path := "", ""
	if result != nil {
		profile = result.Metadata.ProfileUsed
		path = result.Metadata.PathUsed
	}
	now := s.clock.Now()
	query := `
UPDATE jobs
SET status = 'completed', completed_at = $2, result = $3, profile = $4, last_path = $5
WHERE id = $1 AND status = 'processing'`
	tag, err := s.pool.Exec(ctx, query, jobID, now, resultJSON, profile, path)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrInvalidTransition)
	}
	return nil
}

// FailJob records a failed attempt. Non-terminal failures move the job back
// to pending with a not-before timestamp for backoff.
func (s *JobStore) FailJob(ctx context.Context, jobID string, code acquire.Code, reason string, terminal bool, notBefore time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if terminal {
		query := `
UPDATE jobs
SET status = 'failed', completed_at = $2, error_code = $3, error_text = $4
WHERE id = $1 AND status IN ('pending', 'processing')`
		tag, err = s.pool.Exec(ctx, query, jobID, s.clock.Now(), string(code), reason)
	} else {
		query := `
UPDATE jobs
SET status = 'pending', not_before = $2, error_code = $3, error_text = $4
WHERE id = $1 AND status = 'processing'`
		tag, err = s.pool.Exec(ctx, query, jobID, notBefore, string(code), reason)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrInvalidTransition)
	}
	return nil
}

// SetAttemptContext records the identity an attempt used so the next attempt
// can rotate away from it. The path key accumulates into used_paths, which
// feeds the cross-attempt diversity exclusion.
func (s *JobStore) SetAttemptContext(ctx context.Context, jobID, profileName, pathKey string) error {
	query := `
UPDATE jobs
SET profile = $2, last_path = $3,
    used_paths = CASE
        WHEN $3 = '' OR $3 = ANY(used_paths) THEN used_paths
        ELSE array_append(used_paths, $3)
    END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, profileName, pathKey)
	if err != nil {
		return fmt.Errorf("set attempt context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountByStatus aggregates job counts per lifecycle state.
func (s *JobStore) CountByStatus(ctx context.Context) (acquire.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return acquire.StatusCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts acquire.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return acquire.StatusCounts{}, fmt.Errorf("scan count row: %w", err)
		}
		switch acquire.JobStatus(status) {
		case acquire.JobStatusPending:
			counts.Pending = n
		case acquire.JobStatusProcessing:
			counts.Processing = n
		case acquire.JobStatusCompleted:
			counts.Completed = n
		case acquire.JobStatusFailed:
			counts.Failed = n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return acquire.StatusCounts{}, fmt.Errorf("iterate count rows: %w", err)
	}
	return counts, nil
}

func marshalResult(result *acquire.Result) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func scanJob(row pgx.Row) (acquire.Job, error) {
	var (
		job        acquire.Job
		priority   string
		status     string
		resultJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.URL, &priority, &job.Attempts, &job.MaxAttempts,
		&job.StealthLevel, &job.Profile, &job.LastPath, &job.UsedPaths, &status,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.NotBefore,
		&resultJSON, &job.ErrorCode, &job.ErrorText,
	)
	if err != nil {
		return acquire.Job{}, err
	}
	job.Priority = acquire.Priority(priority)
	job.Status = acquire.JobStatus(status)
	if len(resultJSON) > 0 {
		var result acquire.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return acquire.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
