package acquire

import (
	"context"
	"time"
)

// JobStore persists job records and guards their lifecycle transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ClaimJob attempts the pending -> processing transition. The boolean is
	// false when another worker already holds the job or the job is terminal.
	ClaimJob(ctx context.Context, jobID string) (Job, bool, error)
	CompleteJob(ctx context.Context, jobID string, result *Result) error
	// FailJob records a failure. Non-terminal failures return the job to
	// pending with the supplied not-before timestamp.
	FailJob(ctx context.Context, jobID string, code Code, reason string, terminal bool, notBefore time.Time) error
	// SetAttemptContext records the profile and path an attempt used so the
	// next attempt can rotate away from them. The path accumulates into the
	// job's used-path set.
	SetAttemptContext(ctx context.Context, jobID, profileName, pathKey string) error
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// BlobStore writes raw page artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// Queue provides banded enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (injectable for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper performs cooperative waits (injectable for testing).
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
