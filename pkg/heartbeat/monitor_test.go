package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

type fakeChild struct {
	mu      sync.Mutex
	signals []Signal
}

func (f *fakeChild) Signal(sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeChild) Signals() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Signal, len(f.signals))
	copy(out, f.signals)
	return out
}

func newTestMonitor(vt *timer.VirtualTimer) (*Monitor, *procmon.FakeMonitor) {
	sched := NewScheduler(vt)
	pm := procmon.NewFakeMonitor()
	mon := NewMonitor(sched, pm, vt)
	return mon, pm
}

func TestMonitor_SilentChildIsTerminated(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	cfg := DefaultConfig()
	cfg.IntervalMs = 30000
	cfg.TimeoutMs = 0 // test the silence path in isolation from the absolute timeout

	var events []Event
	mon.Subscribe(func(e Event) { events = append(events, e) })

	mon.StartMonitoring("task-1", 1, child, cfg)
	mon.FeedStdout("task-1", "starting up\n")

	// Runtime passes 60s early-phase boundary with no further output, then
	// silence exceeds maxSilenceDuration (120s) at the next tick.
	vt.Advance(150 * time.Second)

	assert.Equal(t, []Signal{SignalGracefulStop}, child.Signals())

	var terminated bool
	for _, e := range events {
		if e.Kind == EventTerminated {
			terminated = true
			assert.Equal(t, "silent", e.Reason)
		}
	}
	assert.True(t, terminated)

	// Grace period fires the force kill 5s later.
	vt.Advance(5 * time.Second)
	assert.Equal(t, []Signal{SignalGracefulStop, SignalForceKill}, child.Signals())
}

func TestMonitor_EarlyPhaseToleratesSilence(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	cfg := DefaultConfig()
	cfg.IntervalMs = 15000
	cfg.TimeoutMs = 0

	mon.StartMonitoring("task-1", 1, child, cfg)
	mon.FeedStdout("task-1", "analyzing repo\n")

	vt.Advance(45 * time.Second)

	state, ok := mon.State("task-1")
	assert.True(t, ok)
	assert.True(t, state.LastVerdict.IsHealthy)
	assert.Empty(t, child.Signals())
}

func TestMonitor_StopMonitoringIsIdempotent(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	mon.StartMonitoring("task-1", 1, child, DefaultConfig())

	mon.StopMonitoring("task-1")
	mon.StopMonitoring("task-1") // must not panic

	_, ok := mon.State("task-1")
	assert.False(t, ok)
}

func TestMonitor_ProgressMarkersEmitProgressEvents(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	var progressEvents int
	mon.Subscribe(func(e Event) {
		if e.Kind == EventProgress {
			progressEvents++
		}
	})

	mon.StartMonitoring("task-1", 1, child, DefaultConfig())
	mon.FeedStdout("task-1", "step 1: analyzing\n")
	mon.FeedStdout("task-1", "nothing interesting\n")
	mon.FeedStdout("task-1", "50% done\n")

	assert.Equal(t, 2, progressEvents)
}

func TestMonitor_ErrorFloodTerminates(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	cfg := DefaultConfig()
	cfg.TimeoutMs = 0
	mon.StartMonitoring("task-1", 1, child, cfg)

	for i := 0; i < 51; i++ {
		mon.FeedStderr("task-1", "boom\n")
	}

	vt.Advance(cfgIntervalDuration(cfg))
	state, _ := mon.State("task-1")
	assert.Equal(t, "error flood", state.LastVerdict.Reason)
	assert.Contains(t, child.Signals(), SignalGracefulStop)
}

func TestMonitor_HighResourceWarningDoesNotTerminate(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{CPUPercent: 95, MemoryMB: 10})

	child := &fakeChild{}
	cfg := DefaultConfig()
	cfg.TimeoutMs = 0
	mon.StartMonitoring("task-1", 1, child, cfg)
	mon.FeedStdout("task-1", "analyzing\n")

	vt.Advance(cfgIntervalDuration(cfg))

	state, _ := mon.State("task-1")
	assert.True(t, state.LastVerdict.IsHealthy)
	assert.Contains(t, state.LastVerdict.Warnings, "High CPU/memory")
	assert.Empty(t, child.Signals())
}

func TestMonitor_AbsoluteTimeoutTerminatesIndependentlyOfSilence(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	mon, pm := newTestMonitor(vt)
	pm.Set(1, procmon.Usage{})

	child := &fakeChild{}
	cfg := DefaultConfig()
	cfg.TimeoutMs = 10000
	cfg.IntervalMs = 60000 // health tick would not fire silence yet
	mon.StartMonitoring("task-1", 1, child, cfg)

	vt.Advance(10 * time.Second)

	assert.Contains(t, child.Signals(), SignalGracefulStop)
}

func TestMonitor_TickPanicEmitsErrorEventInsteadOfPropagating(t *testing.T) {
	vt := timer.NewVirtual(time.Unix(0, 0))
	sched := NewScheduler(vt)
	mon := NewMonitor(sched, panicProcMon{}, vt)

	var errEvents int
	mon.Subscribe(func(e Event) {
		if e.Kind == EventError {
			errEvents++
		}
	})

	cfg := DefaultConfig()
	cfg.TimeoutMs = 0
	mon.StartMonitoring("task-1", 1, &fakeChild{}, cfg)

	assert.NotPanics(t, func() { vt.Advance(cfgIntervalDuration(cfg)) })
	assert.Equal(t, 1, errEvents)
}

type panicProcMon struct{}

func (panicProcMon) GetResourceUsage(pid int32) (procmon.Usage, bool) {
	panic("boom")
}

func cfgIntervalDuration(cfg Config) time.Duration {
	return time.Duration(cfg.IntervalMs) * time.Millisecond
}
