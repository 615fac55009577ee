package scheduler

import "time"

// Clock is the sweeper's single source of "now". Reconciliation compares
// wall-clock time against stored local play times, so every comparison in a
// sweep must come from the same instant.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
