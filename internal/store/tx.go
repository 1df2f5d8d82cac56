package store

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// Tx is a unit of work against the store, obtained from Update or View.
// Methods on a Tx obtained from View fail on writes.
type Tx struct {
	q sqlx.ExtContext
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
