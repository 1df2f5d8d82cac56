package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies creation and modification timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads wall time, forced strictly increasing.
//
// Sync fetches compare modification stamps against the previous fetch's
// MaxTimestamp, so two writes must never share a stamp.
//
// Thread-safety: SystemClock is safe for concurrent use (atomic operations).
type SystemClock struct {
	last atomic.Int64
}

// NewSystemClock creates a clock reading time.Now.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current UTC time, at least one nanosecond after the
// previous call.
func (c *SystemClock) Now() time.Time {
	for {
		last := c.last.Load()
		now := time.Now().UTC().UnixNano()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}
