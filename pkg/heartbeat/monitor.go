package heartbeat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/health"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
)

// monitoredProcess is the MonitoredProcess data model from spec.md §3.
// The Heartbeat Monitor exclusively owns these, per spec.md §3 Ownership.
type monitoredProcess struct {
	mu sync.Mutex

	taskID    string
	pid       int32
	startedAt time.Time
	child     ChildHandle
	cfg       Config

	stdout *ringBuffer
	stderr *ringBuffer

	progressMarkers       int
	errorCount            int
	lastOutputAt          time.Time
	lastCheckAt           time.Time
	lastVerdict           health.Verdict
	terminationRequested  bool
}

// State is a read-only snapshot of a monitored process, for callers that
// need to inspect it (tests, dashboards) without reaching into internals.
type State struct {
	TaskID               string
	PID                  int32
	StartedAt            time.Time
	ProgressMarkers      int
	ErrorCount           int
	LastVerdict          health.Verdict
	TerminationRequested bool
	StdoutLines          int
	StderrLines          int
}

// Monitor is the Heartbeat Monitor facade from spec.md §4.5: it combines
// the Scheduler, the Health Analyzer, and a Process Monitor to watch one
// child process per task and terminate pathological ones.
type Monitor struct {
	scheduler *Scheduler
	procMon   procmon.Monitor
	clock     Clock
	bus       *EventBus

	mu        sync.Mutex
	processes map[string]*monitoredProcess
}

// NewMonitor creates a Monitor. scheduler and procMon must be non-nil;
// clock defaults to RealClock when nil.
func NewMonitor(scheduler *Scheduler, procMon procmon.Monitor, clock Clock) *Monitor {
	if clock == nil {
		clock = RealClock{}
	}
	return &Monitor{
		scheduler: scheduler,
		procMon:   procMon,
		clock:     clock,
		bus:       NewEventBus(),
		processes: make(map[string]*monitoredProcess),
	}
}

// Subscribe registers a listener for every event this Monitor emits.
func (m *Monitor) Subscribe(l Listener) { m.bus.Subscribe(l) }

// StartMonitoring attaches to a spawned child: it immediately schedules
// periodic health checks at cfg.IntervalMs and, if cfg.TimeoutMs > 0, an
// absolute kill deadline, per spec.md §4.5.
func (m *Monitor) StartMonitoring(taskID string, pid int32, child ChildHandle, cfg Config) {
	now := m.clock.Now()
	mp := &monitoredProcess{
		taskID:       taskID,
		pid:          pid,
		startedAt:    now,
		child:        child,
		cfg:          cfg,
		stdout:       newRingBuffer(500),
		stderr:       newRingBuffer(500),
		lastOutputAt: now,
	}

	m.mu.Lock()
	m.processes[taskID] = mp
	m.mu.Unlock()

	m.scheduler.ScheduleChecks(taskID, cfg.IntervalMs, func() { m.tick(taskID) })
	if cfg.TimeoutMs > 0 {
		m.scheduler.ScheduleTimeout(taskID, cfg.TimeoutMs, func() { m.initiateTermination(taskID, "timeout") })
	}
}

// StopMonitoring cancels all timers for taskID and detaches it. Calling it
// more than once for the same taskID is equivalent to calling it once
// (spec.md §8 "Idempotent stop").
func (m *Monitor) StopMonitoring(taskID string) {
	m.scheduler.CancelAll(taskID)
	m.mu.Lock()
	delete(m.processes, taskID)
	m.mu.Unlock()
}

func (m *Monitor) get(taskID string) (*monitoredProcess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.processes[taskID]
	return mp, ok
}

// FeedStdout appends a stdout chunk to taskID's ring buffer, scans it for
// progress markers, and emits a progress event if any were found.
func (m *Monitor) FeedStdout(taskID, chunk string) {
	mp, ok := m.get(taskID)
	if !ok {
		return
	}

	mp.mu.Lock()
	now := m.clock.Now()
	mp.stdout.Append(chunk, now)
	mp.lastOutputAt = now
	markers := health.DetectProgressMarkers(chunk, mp.cfg.Health.ProgressMarkerPatterns)
	mp.progressMarkers += markers
	mp.mu.Unlock()

	if markers > 0 {
		m.bus.Emit(Event{Kind: EventProgress, TaskID: taskID})
	}
}

// FeedStderr appends a stderr chunk to taskID's ring buffer and counts it
// toward the error-flood threshold.
func (m *Monitor) FeedStderr(taskID, chunk string) {
	mp, ok := m.get(taskID)
	if !ok {
		return
	}

	mp.mu.Lock()
	mp.stderr.Append(chunk, m.clock.Now())
	mp.errorCount += countLines(chunk)
	mp.mu.Unlock()
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// tick runs one health-check cycle for taskID. Any panic is recovered and
// surfaced as an error event instead of propagating, per spec.md §4.5.
func (m *Monitor) tick(taskID string) {
	defer func() {
		if r := recover(); r != nil {
			m.bus.Emit(Event{Kind: EventError, TaskID: taskID, Err: fmt.Errorf("heartbeat tick panic: %v", r)})
		}
	}()

	mp, ok := m.get(taskID)
	if !ok {
		return
	}

	// Probe resource usage before taking mp.mu: GetResourceUsage doesn't
	// touch mp, and keeping it outside the critical section means a panic
	// there (e.g. a flaky Monitor implementation) can't leave mp locked.
	usage, _ := m.procMon.GetResourceUsage(mp.pid)

	mp.mu.Lock()
	now := m.clock.Now()
	timestamps := make([]time.Time, 0, mp.stdout.Len())
	for _, e := range mp.stdout.Entries() {
		timestamps = append(timestamps, e.Timestamp)
	}
	outputRate := 0.0
	if len(timestamps) > 0 {
		outputRate = health.CalculateOutputRate(timestamps, mp.cfg.Health.AnalysisWindow)
	}
	tail := mp.stdout.Tail(5)
	metrics := health.ProcessMetrics{
		CPUPercent:          usage.CPUPercent,
		MemoryMB:            usage.MemoryMB,
		OutputRate:          outputRate,
		TimeSinceLastOutput: now.Sub(mp.lastOutputAt),
		ErrorCount:          mp.errorCount,
		ProcessRuntime:      now.Sub(mp.startedAt),
		ProgressMarkerCount: mp.progressMarkers,
		IsWaitingForInput:   health.DetectInputWait(tail),
	}
	verdict := health.Analyze(metrics, mp.cfg.Health)
	mp.lastCheckAt = now
	mp.lastVerdict = verdict
	alreadyTerminating := mp.terminationRequested
	mp.mu.Unlock()

	m.bus.Emit(Event{Kind: EventHealthCheck, TaskID: taskID, Verdict: &verdict})
	if !verdict.IsHealthy {
		m.bus.Emit(Event{Kind: EventUnhealthy, TaskID: taskID, Verdict: &verdict})
	}
	if len(verdict.Warnings) > 0 {
		m.bus.Emit(Event{Kind: EventWarning, TaskID: taskID, Verdict: &verdict})
	}
	if verdict.ShouldTerminate && !alreadyTerminating {
		m.initiateTermination(taskID, verdict.Reason)
	}
}

// initiateTermination runs the termination protocol from spec.md §4.5:
// send the graceful-stop signal, schedule a grace-period force-kill owned
// by the Scheduler (so cancellation stays unified), then emit terminated.
func (m *Monitor) initiateTermination(taskID, reason string) {
	mp, ok := m.get(taskID)
	if !ok {
		return
	}

	mp.mu.Lock()
	if mp.terminationRequested {
		mp.mu.Unlock()
		return
	}
	mp.terminationRequested = true
	child := mp.child
	gracePeriod := mp.cfg.GracePeriodMs
	mp.mu.Unlock()

	if child != nil {
		_ = child.Signal(SignalGracefulStop)
	}

	m.scheduler.ScheduleTimeout(taskID, gracePeriod, func() {
		if child != nil {
			_ = child.Signal(SignalForceKill)
		}
	})

	m.bus.Emit(Event{Kind: EventTerminated, TaskID: taskID, Reason: reason})
}

// State returns a snapshot of the monitored process for taskID, or false
// if it is not (or no longer) being monitored.
func (m *Monitor) State(taskID string) (State, bool) {
	mp, ok := m.get(taskID)
	if !ok {
		return State{}, false
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	return State{
		TaskID:               mp.taskID,
		PID:                  mp.pid,
		StartedAt:            mp.startedAt,
		ProgressMarkers:      mp.progressMarkers,
		ErrorCount:           mp.errorCount,
		LastVerdict:          mp.lastVerdict,
		TerminationRequested: mp.terminationRequested,
		StdoutLines:          mp.stdout.Len(),
		StderrLines:          mp.stderr.Len(),
	}, true
}
