// Package acquire defines core types shared across subsystems.
package acquire

import "time"

// Priority orders jobs into queue bands.
type Priority string

// Priority bands accepted on enqueue.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Band maps a priority to its queue band index, highest first.
func (p Priority) Band() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Valid reports whether the priority is one of the accepted bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents the metadata persisted for each submitted acquisition request.
type Job struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Priority     Priority   `json:"priority"`
	Attempts     int        `json:"retryCount"`
	MaxAttempts  int        `json:"maxRetries"`
	StealthLevel int        `json:"stealthLevel"`
	Profile      string     `json:"assignedProfile,omitempty"`
	LastPath     string     `json:"-"`
	UsedPaths    []string   `json:"-"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	NotBefore    time.Time  `json:"-"`
	Result       *Result    `json:"resultData,omitempty"`
	ErrorCode    string     `json:"-"`
	ErrorText    string     `json:"errorMessage,omitempty"`
}

// Result is the structured payload produced by a successful acquisition.
type Result struct {
	URL        string         `json:"url"`
	Structured map[string]any `json:"structuredData"`
	RawContent string         `json:"rawContent"`
	Metadata   ResultMetadata `json:"metadata"`
}

// ResultMetadata describes how a result was obtained.
type ResultMetadata struct {
	ProfileUsed       string         `json:"profileUsed"`
	PathUsed          string         `json:"pathUsed,omitempty"`
	StealthLevel      int            `json:"stealthLevel"`
	Stats             map[string]int `json:"stats,omitempty"`
	ExtractionSummary string         `json:"extractionSummary"`
	ArtifactURI       string         `json:"artifactUri,omitempty"`
}

// QueueItem wraps a job reference ready to run.
type QueueItem struct {
	JobID     string
	Priority  Priority
	NotBefore time.Time
	Submitted int64
}

// StatusCounts aggregates jobs per lifecycle state.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
