package result

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory result store. Safe for concurrent use; intended
// for unit tests and development.
type MemStore struct {
	mu      sync.RWMutex
	results map[string]*Result
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{results: make(map[string]*Result)}
}

func (m *MemStore) Insert(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneResult(r)
	m.results[r.ID] = cp
	return nil
}

func (m *MemStore) Update(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.results[r.ID]
	if !ok || !cur.Active() {
		return ErrNotFound
	}
	cp := cloneResult(r)
	cp.UpdatedAt = time.Now().UTC()
	m.results[r.ID] = cp
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok || !r.Active() {
		return nil, ErrNotFound
	}
	return cloneResult(r), nil
}

func (m *MemStore) FindBySourceID(_ context.Context, sourceID string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if r.Active() && r.SourceID != "" && r.SourceID == sourceID {
			return cloneResult(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) FindNearby(_ context.Context, lat, lon, radiusMeters float64) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type candidate struct {
		r *Result
		d float64
	}
	var found []candidate
	for _, r := range m.results {
		if !r.Active() {
			continue
		}
		d := haversineMeters(lat, lon, r.Latitude, r.Longitude)
		if d <= radiusMeters {
			found = append(found, candidate{cloneResult(r), d})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].d < found[j].d })
	out := make([]*Result, len(found))
	for i, c := range found {
		out[i] = c.r
	}
	return out, nil
}

func (m *MemStore) ListForJob(_ context.Context, jobID string) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Result
	for _, r := range m.results {
		if r.Active() && r.JobID == jobID {
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) List(_ context.Context, f ListFilter) ([]*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Result
	for _, r := range m.results {
		if !r.Active() {
			continue
		}
		if f.Cell != "" && r.Cell != f.Cell {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		if f.City != "" && r.City != f.City {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok || !r.Active() {
		return ErrNotFound
	}
	r.Deleted = &Deletion{At: at}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneResult(r *Result) *Result {
	cp := *r
	if r.Types != nil {
		cp.Types = append([]string(nil), r.Types...)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Deleted != nil {
		d := *r.Deleted
		cp.Deleted = &d
	}
	if r.Rating != nil {
		v := *r.Rating
		cp.Rating = &v
	}
	if r.ReviewCount != nil {
		v := *r.ReviewCount
		cp.ReviewCount = &v
	}
	return &cp
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}
