package job

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// ValidationError rejects malformed input before it reaches storage.
// Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

// ConflictError signals a lost race on a conditional status update: the
// job's current status did not match the expected one. Callers retry the
// read-claim cycle, not the business operation.
type ConflictError struct {
	ID       string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s: status is %s, expected %s", e.ID, e.Actual, e.Expected)
}

// InvalidTransitionError signals an attempted transition out of a terminal
// or non-matching state. The job is left untouched.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: transition %s -> %s not permitted", e.ID, e.From, e.To)
}

// StorageError wraps a persistence-layer failure. The operation failed fast
// with no partial writes; callers apply their own backoff before retrying.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("job storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
