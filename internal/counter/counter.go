// Package counter provides fixed-window counters with atomic
// increment-and-expire semantics. Counters live either in process or in
// Redis, so several admission instances can share one view of traffic.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	// DefaultGrace is added to every counter expiry so instances with
	// slightly skewed clocks still see the same counter for a window.
	DefaultGrace = 5 * time.Second
)

// ErrStoreUnavailable reports that the backend could not be reached or
// failed to apply an increment. Callers choose fail-open or fail-closed.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// Count is the result of one increment.
type Count struct {
	Value  uint64        // count in the current window, including this increment
	TTL    time.Duration // time left until the next window boundary
	Window clock.Window
}

// Store is a key to count mapping scoped to fixed windows.
// Implementations must be safe for concurrent use and must never lose an
// update to the same key.
type Store interface {
	// IncrementAndGet atomically increments key's counter for the window
	// of duration window that contains the store's current time. The
	// first increment of a window sets an expiry of window plus grace.
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (Count, error)

	// Close releases resources. It is idempotent.
	Close() error
}

func validate(key string, window time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive, got %s", window)
	}
	return nil
}

// windowKey scopes key to a window id, so a new window always starts a
// fresh counter regardless of backend expiry precision.
func windowKey(key string, w clock.Window) string {
	return fmt.Sprintf("%s:%d:%d", key, int64(w.Duration/time.Millisecond), w.ID)
}
