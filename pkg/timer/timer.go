// Package timer provides the injectable scheduling abstraction used by
// every other component that needs one-shot or interval callbacks. No
// other package may consult the wall clock for scheduling decisions; only
// this package's RealTimer touches time.AfterFunc/time.NewTicker directly.
package timer

import "time"

// Handle cancels a previously scheduled callback. Cancel is idempotent:
// calling it more than once has no additional effect and never panics.
type Handle interface {
	Cancel()
}

// Service abstracts one-shot and interval scheduling so components can be
// tested deterministically against a VirtualTimer instead of real time.
type Service interface {
	// Schedule runs fn once after delay elapses.
	Schedule(delay time.Duration, fn func()) Handle
	// ScheduleInterval runs fn repeatedly every interval until cancelled.
	ScheduleInterval(interval time.Duration, fn func()) Handle
}

// noopHandle is a Handle whose Cancel has no effect. Neither RealTimer nor
// VirtualTimer returns it.
type noopHandle struct{}

func (noopHandle) Cancel() {}
