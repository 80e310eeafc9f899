package result

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a result id does not exist or is soft-deleted.
var ErrNotFound = errors.New("result not found")

// StorageError wraps a persistence-layer failure; no partial writes occurred.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("result storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ListFilter narrows List queries. Zero values mean "no constraint".
type ListFilter struct {
	Cell     string
	Category string
	City     string
	Limit    int
	Offset   int
}

// Store is the durable result ledger. Every lookup excludes soft-deleted
// rows unless stated otherwise.
type Store interface {
	Insert(ctx context.Context, r *Result) error
	Update(ctx context.Context, r *Result) error
	Get(ctx context.Context, id string) (*Result, error)
	// FindBySourceID returns the single active result for a provider place
	// id, or ErrNotFound.
	FindBySourceID(ctx context.Context, sourceID string) (*Result, error)
	// FindNearby returns active results within radiusMeters of the point.
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64) ([]*Result, error)
	// ListForJob returns active results produced by a job.
	ListForJob(ctx context.Context, jobID string) ([]*Result, error)
	List(ctx context.Context, f ListFilter) ([]*Result, error)
	// SoftDelete marks a result deleted at the given instant, retaining the
	// row for audit.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
