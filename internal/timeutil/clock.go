// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// AfterFunc waits for the duration to elapse and then calls f.
	// The returned Timer can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single pending callback.
type Timer interface {
	// Stop prevents the Timer from firing. It reports whether the call
	// stopped the timer, false if it had already fired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
// Callbacks run on their own goroutine, as with time.AfterFunc.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// AfterFunc calls f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a manually controlled clock for testing. Callbacks are run
// synchronously from Advance on the caller's goroutine.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*MockTimer
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

// AfterFunc registers f to run once the clock has been advanced by d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &MockTimer{
		clock:    c,
		fn:       f,
		deadline: c.now.Add(d),
		seq:      c.seq,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the mock clock forward by the given duration and runs every
// callback whose deadline falls inside the window, earliest first. Callbacks
// scheduled by other callbacks are run too when they fall due in the window.
// The clock reads each deadline while a callback runs.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// nextDue removes and returns the earliest timer due at or before target,
// moving the clock to its deadline.
func (c *MockClock) nextDue(target time.Time) *MockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		a, b := c.timers[i], c.timers[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})
	t := c.timers[0]
	if t.deadline.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	if t.deadline.After(c.now) {
		c.now = t.deadline
	}
	t.fired = true
	return t
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *MockClock) remove(t *MockTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.fired {
		return false
	}
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			t.fired = true
			return true
		}
	}
	return false
}

// MockTimer is a callback registered on a MockClock.
type MockTimer struct {
	clock    *MockClock
	fn       func()
	deadline time.Time
	seq      uint64
	fired    bool // fired or stopped; guarded by clock.mu
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	return t.clock.remove(t)
}

// Deadline returns the clock time at which the timer fires.
func (t *MockTimer) Deadline() time.Time {
	return t.deadline
}
