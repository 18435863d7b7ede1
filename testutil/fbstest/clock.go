package fbstest

import (
	"sync"
	"time"

	"github.com/bibsdb/bibselv/fbs"
)

// FakeClock is a deterministic fbs.Clock. Time only moves when Advance is
// called; timers fire synchronously inside Advance once their deadline is
// reached. It additionally tracks how many timers are armed, so tests can
// assert the single-instance timer invariant.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock creates a FakeClock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *FakeClock) NewTimer(d time.Duration) fbs.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		clock:    c,
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.timers = append(c.timers, timer)

	active := 0
	for _, t := range c.timers {
		if t.live() {
			active++
		}
	}
	timer.peakActive = active

	return timer
}

// Advance moves the clock forward and fires every armed timer whose deadline
// has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	for _, timer := range c.timers {
		if timer.live() && !timer.deadline.After(c.now) {
			timer.fire(c.now)
		}
	}
}

// ActiveTimerCount reports how many timers are currently armed (neither
// stopped nor fired).
func (c *FakeClock) ActiveTimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, timer := range c.timers {
		if timer.live() {
			count++
		}
	}

	return count
}

// MaxActiveTimerCount reports the largest number of simultaneously armed
// timers ever observed at arming time.
func (c *FakeClock) MaxActiveTimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	max := 0
	for _, timer := range c.timers {
		if timer.peakActive > max {
			max = timer.peakActive
		}
	}

	return max
}

// WaitForActiveTimers polls until exactly n timers are armed or the timeout
// expires. It reports whether the condition was met. The real clock is used
// for the timeout, since the fake clock never moves on its own.
func (c *FakeClock) WaitForActiveTimers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if c.ActiveTimerCount() == n {
			return true
		}
		time.Sleep(time.Millisecond)
	}

	return false
}

type fakeTimer struct {
	clock      *FakeClock
	deadline   time.Time
	ch         chan time.Time
	stopped    bool
	fired      bool
	peakActive int
}

func (t *fakeTimer) live() bool {
	return !t.stopped && !t.fired
}

// fire must be called with the clock lock held.
func (t *fakeTimer) fire(now time.Time) {
	t.fired = true

	select {
	case t.ch <- now:
	default:
	}
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasLive := t.live()
	t.stopped = true

	return wasLive
}
