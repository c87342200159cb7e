package announce

import (
	"sync/atomic"
	"time"
)

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ClockScheduler schedules on the wall clock via time.AfterFunc.
func ClockScheduler() Scheduler {
	return clockScheduler{}
}

// Readiness is the one-way speech readiness cell. It starts false, flips to
// true at most once, and only goes back to false when the queue shuts down.
type Readiness struct {
	ready atomic.Bool
}

// SetReady marks the speech capability ready. It reports whether this call
// performed the flip.
func (r *Readiness) SetReady() bool {
	return r.ready.CompareAndSwap(false, true)
}

// IsReady reports the current readiness.
func (r *Readiness) IsReady() bool {
	return r.ready.Load()
}

func (r *Readiness) reset() {
	r.ready.Store(false)
}
