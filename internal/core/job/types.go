package job

import (
	"time"

	"mapscraper/internal/core/result"
)

// Type classifies the two kinds of work the system dispatches.
type Type string

const (
	// TypeSearch explores one H3 cell for a category/keyword.
	TypeSearch Type = "SEARCH"
	// TypePlace fetches full detail for one already-discovered place.
	TypePlace Type = "PLACE"
)

func (t Type) Valid() bool { return t == TypeSearch || t == TypePlace }

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusProcessing:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusPending ||
			to == StatusFailed || to == StatusCancelled
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	return false
}

// Job is a unit of scraping work. Postgres is the source of truth for every
// field; in-memory copies are never authoritative.
type Job struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	Status       Status                 `json:"status"`
	Cell         string                 `json:"cell,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Keyword      string                 `json:"keyword,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Priority     int                    `json:"priority"`
	ScheduledAt  *time.Time             `json:"scheduled_at,omitempty"`
	RetryCount   int                    `json:"retry_count"`
	MaxRetries   int                    `json:"max_retries"`
	ErrorSummary string                 `json:"error_summary,omitempty"`
	WorkerID     string                 `json:"worker_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Eligible reports whether the job can be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	return j.ScheduledAt == nil || !j.ScheduledAt.After(now)
}

// OutcomeKind is the worker-reported classification of a finished attempt.
// Classification is the worker's call: the scheduler never guesses whether
// a failure is transient.
type OutcomeKind int

const (
	// OutcomeSuccess completes the job and hands its results to dedup.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable requeues the job with backoff while retries remain.
	OutcomeRetryable
	// OutcomeFatal fails the job immediately regardless of remaining retries.
	OutcomeFatal
)

// Outcome is what a worker reports back for a claimed job.
type Outcome struct {
	Kind   OutcomeKind
	Reason string

	// Success fields. Truncated signals the provider page cap was hit and
	// the cell should be refined into children.
	Results   []result.POI
	Truncated bool
}
