package testutil

import (
	"sync"
	"time"
)

// FixedClock is a datasource.Clock that only moves when told to.
//
// Relative-time operators resolve against it, so "today" or
// "previous_month" rewrite to the same bounds on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock stopped at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// DefaultNow is the instant scenario clocks start at when none is given.
var DefaultNow = time.Date(2024, time.March, 14, 15, 9, 26, 0, time.UTC)

// Now implements datasource.Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
