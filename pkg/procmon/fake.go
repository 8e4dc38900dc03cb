package procmon

import "sync"

// FakeMonitor is a deterministic, in-memory Monitor for tests, grounded on
// the teacher's fake CommandRunner pattern (pkg/executor defines
// CommandRunner as an interface specifically so tests can substitute a
// fake implementation rather than shelling out).
type FakeMonitor struct {
	mu     sync.Mutex
	usages map[int32]Usage
	absent map[int32]bool
}

// NewFakeMonitor creates an empty FakeMonitor.
func NewFakeMonitor() *FakeMonitor {
	return &FakeMonitor{usages: make(map[int32]Usage), absent: make(map[int32]bool)}
}

// Set configures the usage returned for pid.
func (f *FakeMonitor) Set(pid int32, usage Usage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.absent, pid)
	f.usages[pid] = usage
}

// SetAbsent makes GetResourceUsage report ok=false for pid, simulating a
// process that has exited or cannot be read.
func (f *FakeMonitor) SetAbsent(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absent[pid] = true
	delete(f.usages, pid)
}

// GetResourceUsage implements Monitor.
func (f *FakeMonitor) GetResourceUsage(pid int32) (Usage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.absent[pid] {
		return Usage{}, false
	}
	u, ok := f.usages[pid]
	return u, ok
}
