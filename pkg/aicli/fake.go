package aicli

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
)

// FakeRunner is a deterministic, in-memory Runner for orchestrator tests,
// grounded on the teacher's fake CommandRunner pattern (pkg/executor tests
// substitute a scripted CommandRunner rather than shelling out).
type FakeRunner struct {
	mu       sync.Mutex
	handlers []func(Request) (Output, error)
	nextPID  int32
	started  []Request
}

// NewFakeRunner creates a FakeRunner that serves the given handlers in
// order, one per Start call; the last handler repeats once exhausted.
func NewFakeRunner(handlers ...func(Request) (Output, error)) *FakeRunner {
	return &FakeRunner{handlers: handlers}
}

// Started returns every request this FakeRunner has started, in order.
func (f *FakeRunner) Started() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.started))
	copy(out, f.started)
	return out
}

// Start implements Runner by invoking the next scripted handler and
// returning a fakeProcess whose Wait reports that handler's result. If sink
// is non-nil, the handler's stdout is fed to it in one chunk before Wait
// returns, simulating a CLI that prints once at exit.
func (f *FakeRunner) Start(_ context.Context, req Request, _ string, sink OutputSink) (Process, error) {
	f.mu.Lock()
	f.started = append(f.started, req)
	idx := len(f.started) - 1
	if idx >= len(f.handlers) {
		idx = len(f.handlers) - 1
	}
	handler := f.handlers[idx]
	pid := atomic.AddInt32(&f.nextPID, 1)
	f.mu.Unlock()

	return &fakeProcess{handler: handler, req: req, pid: pid, sink: sink}, nil
}

type fakeProcess struct {
	handler func(Request) (Output, error)
	req     Request
	pid     int32
	sink    OutputSink

	mu      sync.Mutex
	signals []heartbeat.Signal
}

func (p *fakeProcess) PID() int32 { return p.pid }

func (p *fakeProcess) Signal(sig heartbeat.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Signals() []heartbeat.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]heartbeat.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

func (p *fakeProcess) Wait() (Output, error) {
	if p.handler == nil {
		return Output{ExitCode: 0}, nil
	}
	out, err := p.handler(p.req)
	if p.sink != nil {
		if out.Stdout != "" {
			p.sink.Stdout(out.Stdout)
		}
		if out.Stderr != "" {
			p.sink.Stderr(out.Stderr)
		}
	}
	return out, err
}
