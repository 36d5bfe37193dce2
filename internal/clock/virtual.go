package clock

import (
	"fmt"
	"sync"
	"time"
)

// VirtualClock only moves when told to. Simulations and replays use it to
// walk through hours of quota windows and denylist blocks instantly.
type VirtualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *VirtualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d. Panics if d is negative.
func (c *VirtualClock) Advance(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("clock: negative advance %s", d))
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps to t. Virtual time never runs backwards, so t before the
// current time panics.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		panic(fmt.Sprintf("clock: cannot move back from %s to %s", c.now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano)))
	}
	c.now = t
}
