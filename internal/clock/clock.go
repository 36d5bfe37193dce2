// Package clock supplies the time source shared by windows, counters and
// the denylist, so every time-dependent decision can run on virtual time.
package clock

import "time"

// Clock is the only way admission code reads the time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock reads the wall clock.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
