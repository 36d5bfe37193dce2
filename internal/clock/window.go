package clock

import "time"

// Window is a half-open fixed interval [Start, End) of a given duration.
// Windows of the same duration are numbered by ID = floor(t / duration)
// counted from the Unix epoch, so every process with a synchronised clock
// agrees on the current window for a key.
type Window struct {
	ID       int64
	Start    time.Time
	Duration time.Duration
}

// WindowAt returns the window of duration d that contains t.
// Panics if d is not positive.
func WindowAt(t time.Time, d time.Duration) Window {
	if d <= 0 {
		panic("clock: window duration must be positive")
	}
	id := floorDiv(t.UnixNano(), int64(d))
	return Window{
		ID:       id,
		Start:    time.Unix(0, id*int64(d)),
		Duration: d,
	}
}

// End returns the first instant after the window.
func (w Window) End() time.Time {
	return w.Start.Add(w.Duration)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}

// Remaining returns the time left until the next window boundary, measured from t.
// It is never negative.
func (w Window) Remaining(t time.Time) time.Duration {
	left := w.End().Sub(t)
	if left < 0 {
		return 0
	}
	return left
}

// floorDiv rounds towards negative infinity, unlike the / operator, so
// instants before the epoch land in the window that contains them.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
