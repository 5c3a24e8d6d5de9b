// Package timeutil provides a testable abstraction over wall-clock time.
// Replay pacing, status uptime and cache expiry read time through Clock so
// tests can drive it by hand.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// MockClock is a manually controlled clock for testing. Channels returned
// by After fire when Advance or Set moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	pending []mockWait
}

type mockWait struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After records d and returns a channel that fires once the clock reaches
// now+d. A non-positive d fires immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, mockWait{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Waits returns every duration passed to After, in call order.
func (c *MockClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// Set moves the clock to t and fires any waits that are due.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	keep := c.pending[:0]
	for _, w := range c.pending {
		if !t.Before(w.deadline) {
			w.ch <- t
			continue
		}
		keep = append(keep, w)
	}
	c.pending = keep
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// AutoAdvance returns a clock whose After advances the mock by the
// requested duration and fires at once. Replays use it to run paced
// sources without waiting.
func (c *MockClock) AutoAdvance() Clock {
	return autoClock{c}
}

type autoClock struct{ *MockClock }

func (a autoClock) After(d time.Duration) <-chan time.Time {
	ch := a.MockClock.After(d)
	if d > 0 {
		a.MockClock.Advance(d)
	}
	return ch
}
