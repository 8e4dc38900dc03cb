package timer

import (
	"sync"
	"time"
)

// RealTimer implements Service on top of the platform timer.
type RealTimer struct{}

// NewReal creates a RealTimer.
func NewReal() *RealTimer { return &RealTimer{} }

type realHandle struct {
	mu      sync.Mutex
	timer   *time.Timer
	ticker  *time.Ticker
	stopped bool
	done    chan struct{}
}

func (h *realHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.ticker != nil {
		h.ticker.Stop()
		close(h.done)
	}
}

// Schedule runs fn once after delay, on its own goroutine.
func (r *RealTimer) Schedule(delay time.Duration, fn func()) Handle {
	h := &realHandle{}
	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	return h
}

// ScheduleInterval runs fn every interval until Cancel is called.
func (r *RealTimer) ScheduleInterval(interval time.Duration, fn func()) Handle {
	h := &realHandle{ticker: time.NewTicker(interval), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-h.ticker.C:
				fn()
			}
		}
	}()
	return h
}
