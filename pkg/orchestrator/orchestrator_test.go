package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/aicli"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/recursion"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

type fakeEnv struct{ vars map[string]string }

func (f fakeEnv) Getenv(k string) string { return f.vars[k] }

func testGuard(vars map[string]string) *recursion.Guard {
	return recursion.New("/opt/testgenctl", fakeEnv{vars: vars}, 0)
}

func successJSON(tokens int) string {
	return fmt.Sprintf(`{"content":"generated test","usage":{"input_tokens":%d,"output_tokens":%d,"total_tokens":%d}}`, tokens/2, tokens/2, tokens)
}

func noJitter() float64 { return 0 }

func newTestOrchestrator(cfg Config, runner aicli.Runner) *Orchestrator {
	guard := testGuard(nil)
	pm := procmon.NewFakeMonitor()
	vt := timer.NewVirtual(time.Unix(0, 0))
	cfg.Jitter = noJitter
	return New(cfg, guard, runner, timer.NewReal(), pm, vt, nil)
}

func makeBatch(n int) Batch {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{ID: fmt.Sprintf("task-%d", i), Prompt: "do it", Model: "sonnet"}
	}
	return Batch{ID: "batch-0", Tasks: tasks}
}

func TestProcessBatch_OrderPreservedRegardlessOfCompletionOrder(t *testing.T) {
	runner := aicli.NewFakeRunner(func(req aicli.Request) (aicli.Output, error) {
		return aicli.Output{ExitCode: 0, Stdout: successJSON(100)}, nil
	})
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 3
	cfg.MaxRetries = 0
	o := newTestOrchestrator(cfg, runner)

	batch := makeBatch(10)
	results, err := o.ProcessBatch(context.Background(), "/repo", batch)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.TaskID)
		assert.True(t, r.Success)
	}
}

func TestProcessBatch_ConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	current, peak := 0, 0
	runner := aicli.NewFakeRunner(func(req aicli.Request) (aicli.Output, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return aicli.Output{ExitCode: 0, Stdout: successJSON(10)}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.MaxRetries = 0
	o := newTestOrchestrator(cfg, runner)

	_, err := o.ProcessBatch(context.Background(), "/repo", makeBatch(8))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}

func TestProcessBatch_RetryWithFallbackModel(t *testing.T) {
	attempt := 0
	runner := aicli.NewFakeRunner(
		func(req aicli.Request) (aicli.Output, error) {
			attempt++
			return aicli.Output{ExitCode: 1}, nil
		},
		func(req aicli.Request) (aicli.Output, error) {
			attempt++
			assert.Equal(t, "sonnet-fallback", req.Model)
			return aicli.Output{ExitCode: 0, Stdout: successJSON(40)}, nil
		},
	)

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 1
	cfg.Model = "opus"
	cfg.FallbackModel = "sonnet-fallback"
	cfg.BaseRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	o := newTestOrchestrator(cfg, runner)

	var retryEvents []Event
	o.Subscribe(func(e Event) {
		if e.Kind == EventTaskRetry {
			retryEvents = append(retryEvents, e)
		}
	})

	batch := Batch{ID: "b", Tasks: []Task{{ID: "t1", Prompt: "p", Model: "opus"}}}
	results, err := o.ProcessBatch(context.Background(), "/repo", batch)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, "sonnet-fallback", results[0].Model)
	assert.Equal(t, 1, results[0].RetryCount)
	require.Len(t, retryEvents, 1)
	assert.Equal(t, 1, retryEvents[0].Attempt)
}

func TestProcessBatch_RecursionRefusalFailsAllWithoutSpawning(t *testing.T) {
	var spawned bool
	runner := aicli.NewFakeRunner(func(req aicli.Request) (aicli.Output, error) {
		spawned = true
		return aicli.Output{ExitCode: 0, Stdout: successJSON(10)}, nil
	})

	cfg := DefaultConfig()
	guard := testGuard(nil)
	pm := procmon.NewFakeMonitor()
	vt := timer.NewVirtual(time.Unix(0, 0))
	cfg.Jitter = noJitter
	o := New(cfg, guard, runner, timer.NewReal(), pm, vt, nil)

	batch := makeBatch(3)
	results, err := o.ProcessBatch(context.Background(), "/opt/testgenctl/sub/dir", batch)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, ReasonSelfTarget, r.ErrorReason)
	}
	assert.False(t, spawned)
}

func TestProcessBatch_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	runner := aicli.NewFakeRunner(func(req aicli.Request) (aicli.Output, error) {
		return aicli.Output{ExitCode: 1}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 0
	cfg.CircuitBreakerEnabled = true
	cfg.CircuitBreakerThreshold = 2
	o := newTestOrchestrator(cfg, runner)

	results, err := o.ProcessBatch(context.Background(), "/repo", makeBatch(5))
	require.NoError(t, err)

	var circuitOpenCount int
	for _, r := range results {
		assert.False(t, r.Success)
		if r.ErrorReason == ReasonCircuitOpen {
			circuitOpenCount++
		}
	}
	assert.Greater(t, circuitOpenCount, 0)
	assert.Equal(t, CircuitOpen, o.GetStats().CircuitState)
}

func TestProcessBatch_GracefulDegradationProducesDegradedResult(t *testing.T) {
	runner := aicli.NewFakeRunner(func(req aicli.Request) (aicli.Output, error) {
		return aicli.Output{ExitCode: 1}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 0
	cfg.GracefulDegradation = true
	cfg.CircuitBreakerEnabled = false
	o := newTestOrchestrator(cfg, runner)

	batch := Batch{ID: "b", Tasks: []Task{{ID: "t1", Prompt: "p"}}}
	results, err := o.ProcessBatch(context.Background(), "/repo", batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
	assert.False(t, results[0].Success)
}

func TestProcessBatch_CLIUnavailableIsNonRetryable(t *testing.T) {
	runner := &unavailableRunner{}

	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 3
	o := newTestOrchestrator(cfg, runner)

	batch := Batch{ID: "b", Tasks: []Task{{ID: "t1", Prompt: "p"}}}
	results, err := o.ProcessBatch(context.Background(), "/repo", batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, ReasonCLIUnavailable, results[0].ErrorReason)
	assert.Equal(t, 0, results[0].RetryCount)
}

type unavailableRunner struct{}

func (unavailableRunner) Start(_ context.Context, _ aicli.Request, binary string, _ aicli.OutputSink) (aicli.Process, error) {
	return nil, fmt.Errorf("%w: %s", aicli.ErrCLIUnavailable, binary)
}

// hangingProcess never exits on its own; it only returns from Wait once
// force-killed, simulating a stuck AI CLI invocation for the per-task
// absolute timeout test below.
type hangingProcess struct {
	killCh chan struct{}
	once   sync.Once
}

func (p *hangingProcess) PID() int32 { return 1 }

func (p *hangingProcess) Signal(sig heartbeat.Signal) error {
	if sig == heartbeat.SignalForceKill {
		p.once.Do(func() { close(p.killCh) })
	}
	return nil
}

func (p *hangingProcess) Wait() (aicli.Output, error) {
	<-p.killCh
	return aicli.Output{ExitCode: -1}, nil
}

type hangingRunner struct{}

func (hangingRunner) Start(_ context.Context, _ aicli.Request, _ string, _ aicli.OutputSink) (aicli.Process, error) {
	return &hangingProcess{killCh: make(chan struct{})}, nil
}

func TestProcessBatch_AbsoluteTimeoutTerminatesHungTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxRetries = 0
	cfg.CircuitBreakerEnabled = false
	cfg.Timeout = 20 * time.Millisecond
	cfg.Heartbeat.IntervalMs = 60000
	cfg.Heartbeat.GracePeriodMs = 10

	o := newTestOrchestrator(cfg, hangingRunner{})

	batch := Batch{ID: "b", Tasks: []Task{{ID: "t1", Prompt: "p"}}}
	results, err := o.ProcessBatch(context.Background(), "/repo", batch)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Equal(t, ReasonTimeout, results[0].ErrorReason)
	assert.True(t, results[0].Cancelled)
}
