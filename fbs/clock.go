package fbs

import (
	"time"
)

// Clock is the injectable time source used for all timestamp defaulting and
// timer scheduling, so that tests can control clock behavior
// deterministically.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer armed through a Clock. Stop releases the
// timer; it reports whether the timer was still armed.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock returns the Clock backed by the wall clock and time.Timer.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{timer: time.NewTimer(d)}
}

type systemTimer struct {
	timer *time.Timer
}

func (t systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t systemTimer) Stop() bool {
	return t.timer.Stop()
}
