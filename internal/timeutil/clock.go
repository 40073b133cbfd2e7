// Package timeutil lets the polling loops run on real or virtual time.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of the polling loops.
type Clock interface {
	Now() time.Time
	// NewTimer returns a Timer that fires once, d after Now.
	NewTimer(d time.Duration) Timer
}

// Timer is a one-shot timer. Stop and Reset report whether the timer was
// armed, as time.Timer does.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct{ *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.Timer.C }

// MockClock is a manually controlled clock for testing. Timers only fire
// when Advance moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*MockTimer
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTimer creates a new MockTimer armed relative to the mocked time.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTimer{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
	}
	c.arm(t)
	return t
}

// Advance moves the mock clock forward by the given duration and fires every
// timer whose deadline has been reached. Fired timers are disarmed.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*MockTimer
	kept := c.pending[:0]
	for _, t := range c.pending {
		if !now.Before(t.deadline) {
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	c.pending = kept
	c.changed.Broadcast()
	c.mu.Unlock()

	for _, t := range due {
		select {
		case t.ch <- now:
		default:
		}
	}
}

// Pending returns the number of armed timers.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// BlockUntil blocks until at least n timers are armed. Tests use it to wait
// for every goroutine under test to reach its next suspension point before
// advancing the clock.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// arm must be called with c.mu held.
func (c *MockClock) arm(t *MockTimer) {
	c.pending = append(c.pending, t)
	c.changed.Broadcast()
}

// disarm must be called with c.mu held.
func (c *MockClock) disarm(t *MockTimer) bool {
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.changed.Broadcast()
			return true
		}
	}
	return false
}

// MockTimer is a manually controlled timer for testing.
type MockTimer struct {
	clock    *MockClock
	ch       chan time.Time
	deadline time.Time
}

// C returns the timer channel.
func (t *MockTimer) C() <-chan time.Time {
	return t.ch
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.disarm(t)
}

// Reset re-arms the timer to expire d after the current mocked time.
func (t *MockTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := t.clock.disarm(t)
	t.deadline = t.clock.now.Add(d)
	t.clock.arm(t)
	return wasActive
}
