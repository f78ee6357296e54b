package engine

import "time"

// Clock abstracts wall time so tests can advance it deterministically
// instead of sleeping through trade durations.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
