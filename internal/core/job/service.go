package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mapscraper/internal/core/result"
	"mapscraper/internal/core/retry"
	"mapscraper/internal/core/tiler"
	"mapscraper/internal/logger"
)

// SeenCache is an advisory duplicate-suppression cache (Redis-backed in
// production). Losing it only costs duplicate follow-up jobs, which the
// result deduplicator absorbs; it is never authoritative.
type SeenCache interface {
	MarkSeen(ctx context.Context, key string, ttlSeconds int) (bool, error)
}

// SchedulerConfig tunes dispatch and refinement behavior.
type SchedulerConfig struct {
	// PageCap is the provider's page size; a SEARCH returning this many
	// results is suspected truncated and triggers cell refinement.
	PageCap int
	// RefinementStep is how many resolution levels refinement descends.
	RefinementStep int
	// MaxResolution bounds refinement.
	MaxResolution int
	// DefaultMaxRetries applies when a created job does not set its own.
	DefaultMaxRetries int
	// SeenTTLSeconds bounds the advisory follow-up dedup window.
	SeenTTLSeconds int
}

// Scheduler owns the job lifecycle: creation, claiming, outcome handling,
// retry scheduling, cancellation, and follow-up derivation. All state lives
// in the store; the scheduler itself is stateless and safe to run in many
// processes at once.
type Scheduler struct {
	store  Store
	dedup  *result.Service
	policy *retry.Policy
	seen   SeenCache
	cfg    SchedulerConfig
	log    *logger.Logger
}

func NewScheduler(store Store, dedup *result.Service, policy *retry.Policy, seen SeenCache, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxResolution == 0 {
		cfg.MaxResolution = 15
	}
	if cfg.RefinementStep == 0 {
		cfg.RefinementStep = 1
	}
	if cfg.DefaultMaxRetries == 0 {
		cfg.DefaultMaxRetries = 3
	}
	return &Scheduler{
		store:  store,
		dedup:  dedup,
		policy: policy,
		seen:   seen,
		cfg:    cfg,
		log:    logger.New("Scheduler"),
	}
}

// CreateParams describes a job to enqueue.
type CreateParams struct {
	Type        Type
	Cell        string
	Category    string
	Keyword     string
	Payload     map[string]interface{}
	Priority    int
	ScheduledAt *time.Time
	MaxRetries  int
}

// Enqueue validates and persists a new PENDING job.
func (s *Scheduler) Enqueue(ctx context.Context, p CreateParams) (*Job, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}
	now := time.Now().UTC()
	j := &Job{
		ID:          uuid.NewString(),
		Type:        p.Type,
		Status:      StatusPending,
		Cell:        p.Cell,
		Category:    p.Category,
		Keyword:     p.Keyword,
		Payload:     p.Payload,
		Priority:    p.Priority,
		ScheduledAt: p.ScheduledAt,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	s.log.LogDebugf("enqueued %s job %s (cell=%s priority=%d)", j.Type, j.ID, j.Cell, j.Priority)
	return j, nil
}

func validateParams(p CreateParams) error {
	if !p.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", p.Type)}
	}
	if p.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Reason: "must not be negative"}
	}
	switch p.Type {
	case TypeSearch:
		if p.Cell == "" {
			return &ValidationError{Field: "cell", Reason: "required for SEARCH jobs"}
		}
		if _, err := tiler.Resolution(p.Cell); err != nil {
			return &ValidationError{Field: "cell", Reason: err.Error()}
		}
		if p.Category == "" && p.Keyword == "" {
			return &ValidationError{Field: "category", Reason: "SEARCH needs a category or keyword"}
		}
	case TypePlace:
		if p.Payload == nil {
			return &ValidationError{Field: "payload", Reason: "required for PLACE jobs"}
		}
		if _, ok := p.Payload["source_id"]; !ok {
			if _, ok := p.Payload["source_url"]; !ok {
				return &ValidationError{Field: "payload", Reason: "PLACE needs source_id or source_url"}
			}
		}
	}
	return nil
}

// Get returns a job by id, straight from the store.
func (s *Scheduler) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// QueueDepth reports job counts per status.
func (s *Scheduler) QueueDepth(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}

// Claim atomically assigns up to batch eligible jobs to workerID. Returns
// immediately with however many jobs could be secured, zero included.
func (s *Scheduler) Claim(ctx context.Context, workerID string, batch int) ([]*Job, error) {
	if workerID == "" {
		return nil, &ValidationError{Field: "worker_id", Reason: "required"}
	}
	if batch < 1 {
		return nil, &ValidationError{Field: "batch_size", Reason: "must be at least 1"}
	}
	jobs, err := s.store.Claim(ctx, workerID, batch, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		s.log.LogDebugf("worker %s claimed %d job(s)", workerID, len(jobs))
	}
	return jobs, nil
}

// Report records a worker's outcome for a claimed job.
//
// A report against a job that was cancelled while in flight is a logged
// no-op: the worker is not preempted, its result is simply not recorded.
// Reports against any other non-PROCESSING state are rejected with
// InvalidTransitionError.
func (s *Scheduler) Report(ctx context.Context, jobID string, outcome Outcome) error {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == StatusCancelled {
		s.log.LogWarnf("dropping report for cancelled job %s", jobID)
		return nil
	}
	if j.Status != StatusProcessing {
		return &InvalidTransitionError{ID: jobID, From: j.Status, To: outcomeTarget(outcome.Kind)}
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		return s.reportSuccess(ctx, j, outcome)
	case OutcomeRetryable:
		return s.reportRetryable(ctx, j, outcome.Reason)
	case OutcomeFatal:
		return s.reportFatal(ctx, j, outcome.Reason)
	default:
		return &ValidationError{Field: "outcome", Reason: "unknown outcome kind"}
	}
}

func outcomeTarget(kind OutcomeKind) Status {
	switch kind {
	case OutcomeSuccess:
		return StatusCompleted
	case OutcomeRetryable:
		return StatusPending
	case OutcomeFatal:
		return StatusFailed
	}
	return StatusFailed
}

func (s *Scheduler) reportSuccess(ctx context.Context, j *Job, outcome Outcome) error {
	now := time.Now().UTC()
	if _, err := s.store.UpdateStatus(ctx, j.ID, StatusProcessing, StatusCompleted, UpdateFields{
		CompletedAt: &now,
		ClearError:  true,
	}); err != nil {
		return s.absorbCancelledRace(ctx, j.ID, err)
	}

	var fresh []*result.Result
	for _, poi := range outcome.Results {
		res, r, err := s.dedup.Resolve(ctx, poi, j.ID)
		if err != nil {
			s.log.LogError(fmt.Sprintf("dedup failed for poi %q (job %s)", poi.Name, j.ID), err)
			continue
		}
		if res == result.Inserted {
			fresh = append(fresh, r)
		}
	}

	// Follow-ups are additive: the SEARCH job stays COMPLETED regardless of
	// how derivation goes.
	if j.Type == TypeSearch {
		s.enqueuePlaceFollowups(ctx, j, fresh)
		if outcome.Truncated || (s.cfg.PageCap > 0 && len(outcome.Results) >= s.cfg.PageCap) {
			s.enqueueRefinement(ctx, j)
		}
	}
	return nil
}

// enqueuePlaceFollowups creates one PLACE detail job per newly discovered
// place. The seen cache suppresses duplicates when overlapping cells surface
// the same place close together in time.
func (s *Scheduler) enqueuePlaceFollowups(ctx context.Context, parent *Job, fresh []*result.Result) {
	for _, r := range fresh {
		if r.SourceID == "" && r.SourceURL == "" {
			// Nothing for a detail fetch to key on.
			s.log.LogDebugf("no provider reference for result %s, skipping detail job", r.ID)
			continue
		}
		if r.SourceID != "" && s.seen != nil {
			already, err := s.seen.MarkSeen(ctx, "place:enqueued:"+r.SourceID, s.cfg.SeenTTLSeconds)
			if err != nil {
				s.log.LogWarnf("seen cache unavailable, enqueueing anyway: %v", err)
			} else if already {
				continue
			}
		}
		payload := map[string]interface{}{"result_id": r.ID}
		if r.SourceID != "" {
			payload["source_id"] = r.SourceID
		}
		if r.SourceURL != "" {
			payload["source_url"] = r.SourceURL
		}
		if _, err := s.Enqueue(ctx, CreateParams{
			Type:       TypePlace,
			Cell:       r.Cell,
			Priority:   parent.Priority,
			Payload:    payload,
			MaxRetries: parent.MaxRetries,
		}); err != nil {
			s.log.LogError(fmt.Sprintf("enqueue place follow-up for %s", r.ID), err)
		}
	}
}

// enqueueRefinement splits a truncated cell into its children at the next
// finer resolution and enqueues a SEARCH per child with the same facets.
func (s *Scheduler) enqueueRefinement(ctx context.Context, parent *Job) {
	res, err := tiler.Resolution(parent.Cell)
	if err != nil {
		s.log.LogError(fmt.Sprintf("refinement skipped for job %s", parent.ID), err)
		return
	}
	target := res + s.cfg.RefinementStep
	if target > s.cfg.MaxResolution {
		s.log.LogWarnf("refinement for job %s would exceed max resolution %d, skipping", parent.ID, s.cfg.MaxResolution)
		return
	}
	children, err := tiler.Children(parent.Cell, target)
	if err != nil {
		s.log.LogError(fmt.Sprintf("refinement skipped for job %s", parent.ID), err)
		return
	}
	for _, child := range children {
		if _, err := s.Enqueue(ctx, CreateParams{
			Type:       TypeSearch,
			Cell:       child,
			Category:   parent.Category,
			Keyword:    parent.Keyword,
			Priority:   parent.Priority,
			MaxRetries: parent.MaxRetries,
		}); err != nil {
			s.log.LogError(fmt.Sprintf("enqueue refinement search for cell %s", child), err)
		}
	}
	s.log.LogInfof("refined cell %s into %d children at resolution %d (job %s)",
		parent.Cell, len(children), target, parent.ID)
}

func (s *Scheduler) reportRetryable(ctx context.Context, j *Job, reason string) error {
	next := j.RetryCount + 1
	if next > j.MaxRetries {
		// Out of budget: FAILED, and the counter stays at MaxRetries so the
		// retryCount <= maxRetries invariant holds.
		_, err := s.store.UpdateStatus(ctx, j.ID, StatusProcessing, StatusFailed, UpdateFields{
			ErrorSummary: &reason,
		})
		if err != nil {
			return s.absorbCancelledRace(ctx, j.ID, err)
		}
		s.log.LogWarnf("job %s failed after %d retries: %s", j.ID, j.MaxRetries, reason)
		return nil
	}

	runAt := time.Now().UTC().Add(s.policy.NextDelay(next))
	_, err := s.store.UpdateStatus(ctx, j.ID, StatusProcessing, StatusPending, UpdateFields{
		ScheduledAt:  &runAt,
		RetryCount:   &next,
		ErrorSummary: &reason,
	})
	if err != nil {
		return s.absorbCancelledRace(ctx, j.ID, err)
	}
	s.log.LogDebugf("job %s requeued (attempt %d/%d) for %s", j.ID, next, j.MaxRetries, runAt.Format(time.RFC3339))
	return nil
}

func (s *Scheduler) reportFatal(ctx context.Context, j *Job, reason string) error {
	_, err := s.store.UpdateStatus(ctx, j.ID, StatusProcessing, StatusFailed, UpdateFields{
		ErrorSummary: &reason,
	})
	if err != nil {
		return s.absorbCancelledRace(ctx, j.ID, err)
	}
	s.log.LogWarnf("job %s failed fatally: %s", j.ID, reason)
	return nil
}

// absorbCancelledRace turns a conflict caused by a concurrent cancellation
// into the same logged no-op as a report against an already-cancelled job.
func (s *Scheduler) absorbCancelledRace(ctx context.Context, jobID string, err error) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) && conflict.Actual == StatusCancelled {
		s.log.LogWarnf("dropping report for cancelled job %s", jobID)
		return nil
	}
	return err
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED. For PROCESSING
// jobs this is best-effort: the in-flight worker is not preempted, its
// eventual report is simply dropped.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(j.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{ID: jobID, From: j.Status, To: StatusCancelled}
	}
	updated, err := s.store.UpdateStatus(ctx, jobID, j.Status, StatusCancelled, UpdateFields{})
	if err != nil {
		return nil, err
	}
	s.log.LogInfof("job %s cancelled (was %s)", jobID, j.Status)
	return updated, nil
}

// ReclaimStale requeues jobs stuck in PROCESSING longer than threshold.
// Operational sweep, driven by the worker pool's maintenance ticker.
func (s *Scheduler) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	n, err := s.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.LogWarnf("requeued %d stale job(s) older than %s", n, threshold)
	}
	return n, nil
}
