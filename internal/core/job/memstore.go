package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory job store with the same conditional-update and
// claim semantics as the Postgres store. Safe for concurrent use; intended
// for unit tests and development.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*Job)}
}

func (m *MemStore) Create(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneJob(j)
	m.jobs[j.ID] = cp
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id string, from, to Status, fields UpdateFields) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != from {
		return nil, &ConflictError{ID: id, Expected: from, Actual: j.Status}
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if fields.ScheduledAt != nil {
		t := *fields.ScheduledAt
		j.ScheduledAt = &t
	}
	if fields.RetryCount != nil {
		j.RetryCount = *fields.RetryCount
	}
	if fields.ErrorSummary != nil {
		j.ErrorSummary = *fields.ErrorSummary
	} else if fields.ClearError {
		j.ErrorSummary = ""
	}
	if fields.WorkerID != nil {
		j.WorkerID = *fields.WorkerID
	}
	if fields.StartedAt != nil {
		t := *fields.StartedAt
		j.StartedAt = &t
	}
	if fields.CompletedAt != nil {
		t := *fields.CompletedAt
		j.CompletedAt = &t
	}
	return cloneJob(j), nil
}

func (m *MemStore) ListEligible(_ context.Context, limit int, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eligible := m.eligibleLocked(now)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*Job, len(eligible))
	for i, j := range eligible {
		out[i] = cloneJob(j)
	}
	return out, nil
}

func (m *MemStore) Claim(_ context.Context, workerID string, batch int, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eligible := m.eligibleLocked(now)
	if batch > 0 && len(eligible) > batch {
		eligible = eligible[:batch]
	}
	out := make([]*Job, len(eligible))
	for i, j := range eligible {
		j.Status = StatusProcessing
		j.WorkerID = workerID
		t := now
		j.StartedAt = &t
		j.UpdatedAt = now
		out[i] = cloneJob(j)
	}
	return out, nil
}

func (m *MemStore) ReclaimStale(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			j.Status = StatusPending
			j.WorkerID = ""
			j.StartedAt = nil
			j.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, j := range m.jobs {
		out[j.Status]++
	}
	return out, nil
}

// eligibleLocked returns pointers into the store sorted by dispatch order:
// priority desc, scheduledAt asc with unset first, createdAt asc.
func (m *MemStore) eligibleLocked(now time.Time) []*Job {
	var eligible []*Job
	for _, j := range m.jobs {
		if j.Eligible(now) {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(i, k int) bool {
		a, b := eligible[i], eligible[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.ScheduledAt == nil && b.ScheduledAt != nil:
			return true
		case a.ScheduledAt != nil && b.ScheduledAt == nil:
			return false
		case a.ScheduledAt != nil && b.ScheduledAt != nil && !a.ScheduledAt.Equal(*b.ScheduledAt):
			return a.ScheduledAt.Before(*b.ScheduledAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return eligible
}

func cloneJob(j *Job) *Job {
	cp := *j
	if j.ScheduledAt != nil {
		t := *j.ScheduledAt
		cp.ScheduledAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(j.Payload))
		for k, v := range j.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
