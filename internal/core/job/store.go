package job

import (
	"context"
	"time"
)

// UpdateFields carries the mutable columns a status transition may touch.
// Nil pointers leave the column untouched; ClearError wipes ErrorSummary.
type UpdateFields struct {
	ScheduledAt  *time.Time
	RetryCount   *int
	ErrorSummary *string
	ClearError   bool
	WorkerID     *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Store is the durable job ledger. Its conditional, atomic operations are
// the system's only concurrency-control primitive: all coordination is
// per-row, there is no global lock.
type Store interface {
	// Create persists a new job. The caller assigns the id.
	Create(ctx context.Context, j *Job) error

	Get(ctx context.Context, id string) (*Job, error)

	// UpdateStatus transitions a job from -> to in one conditional step.
	// Returns *ConflictError when the current status does not match from,
	// preventing lost updates from concurrent schedulers.
	UpdateStatus(ctx context.Context, id string, from, to Status, fields UpdateFields) (*Job, error)

	// ListEligible returns PENDING jobs with scheduledAt unset or <= now,
	// ordered by (priority desc, scheduledAt asc, createdAt asc).
	ListEligible(ctx context.Context, limit int, now time.Time) ([]*Job, error)

	// Claim atomically selects up to batch eligible jobs (ListEligible
	// order) and transitions them to PROCESSING for workerID, recording
	// startedAt. Concurrent claims never return the same job; the loser
	// simply receives a shorter batch. Never blocks on contention.
	Claim(ctx context.Context, workerID string, batch int, now time.Time) ([]*Job, error)

	// ReclaimStale requeues PROCESSING jobs whose startedAt is older than
	// the cutoff, returning how many were requeued. Maintenance sweep, not
	// part of the hot dispatch path.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)

	// CountByStatus reports queue depth per status for operator visibility.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
