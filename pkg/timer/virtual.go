package timer

import (
	"sync"
	"time"
)

// VirtualTimer is a deterministic Service that only advances on demand via
// Advance. It is the mandatory injection point for tests of silence
// timeouts, grace periods, and exponential backoff described in spec.md §9:
// no component may depend on real elapsed time for those decisions.
type VirtualTimer struct {
	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	entries map[uint64]*virtualEntry
}

type virtualEntry struct {
	id        uint64
	fireAt    time.Time
	interval  time.Duration // zero for one-shot
	fn        func()
	cancelled bool
}

// NewVirtual creates a VirtualTimer starting at the given synthetic time.
func NewVirtual(start time.Time) *VirtualTimer {
	return &VirtualTimer{now: start, entries: make(map[uint64]*virtualEntry)}
}

// Now returns the current synthetic time.
func (v *VirtualTimer) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

type virtualHandle struct {
	v  *VirtualTimer
	id uint64
}

func (h *virtualHandle) Cancel() {
	h.v.mu.Lock()
	defer h.v.mu.Unlock()
	if e, ok := h.v.entries[h.id]; ok {
		e.cancelled = true
		delete(h.v.entries, h.id)
	}
}

// Schedule registers a one-shot callback.
func (v *VirtualTimer) Schedule(delay time.Duration, fn func()) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.entries[id] = &virtualEntry{id: id, fireAt: v.now.Add(delay), fn: fn}
	return &virtualHandle{v: v, id: id}
}

// ScheduleInterval registers a recurring callback.
func (v *VirtualTimer) ScheduleInterval(interval time.Duration, fn func()) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.entries[id] = &virtualEntry{id: id, fireAt: v.now.Add(interval), interval: interval, fn: fn}
	return &virtualHandle{v: v, id: id}
}

// Advance moves the virtual clock forward by d, firing any due callbacks in
// fireAt order (ties broken by registration order). Interval entries are
// rescheduled for their next tick; one-shot entries are removed after
// firing.
func (v *VirtualTimer) Advance(d time.Duration) {
	target := v.Now().Add(d)
	for {
		v.mu.Lock()
		var due *virtualEntry
		for _, e := range v.entries {
			if e.cancelled || e.fireAt.After(target) {
				continue
			}
			if due == nil || e.fireAt.Before(due.fireAt) || (e.fireAt.Equal(due.fireAt) && e.id < due.id) {
				due = e
			}
		}
		if due == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = due.fireAt
		if due.interval > 0 {
			due.fireAt = due.fireAt.Add(due.interval)
		} else {
			delete(v.entries, due.id)
		}
		fn := due.fn
		v.mu.Unlock()
		fn()
	}
}

// PendingCount returns the number of live (non-cancelled) scheduled entries.
func (v *VirtualTimer) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}
