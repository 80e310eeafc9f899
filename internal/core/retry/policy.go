// Package retry computes backoff delays for requeued jobs.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy is a full-jitter exponential backoff: a retry waits a random
// duration in [0, min(Base * 2^attempt, Max)]. Jitter keeps a burst of
// failed jobs from re-entering the queue in lockstep.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// jitter returns a value in [0, 1). Overridable in tests.
	jitter func() float64
}

func NewPolicy(base, maxDelay time.Duration) *Policy {
	return &Policy{Base: base, Max: maxDelay, jitter: rand.Float64}
}

// NextDelay returns the wait before retry number attempt. Attempt is the
// post-increment retry count, so the first retry passes 1.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(p.jitter() * d)
}

// MaxDelay returns the jitter-free ceiling for attempt, used by tests and
// for reporting expected requeue horizons.
func (p *Policy) MaxDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}
