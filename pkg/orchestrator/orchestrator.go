package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/aicli"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/applog"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/recursion"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

// Orchestrator is the Task Orchestrator facade from spec.md §4.6.
type Orchestrator struct {
	cfg     Config
	guard   *recursion.Guard
	runner  aicli.Runner
	timerSvc timer.Service
	procMon procmon.Monitor
	clock   heartbeat.Clock
	log     *applog.Logger

	bus *eventBus

	mu         sync.Mutex
	running    int
	perModel   map[string]ModelStats
	stats      OrchestratorStats
	breaker    *circuitBreaker
}

// New creates an Orchestrator. procMon and timerSvc are injected so tests
// can substitute procmon.FakeMonitor / timer.VirtualTimer, per spec.md §9.
func New(cfg Config, guard *recursion.Guard, runner aicli.Runner, timerSvc timer.Service, procMon procmon.Monitor, clock heartbeat.Clock, log *applog.Logger) *Orchestrator {
	if log == nil {
		log = applog.Default("orchestrator")
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}
	return &Orchestrator{
		cfg:      cfg,
		guard:    guard,
		runner:   runner,
		timerSvc: timerSvc,
		procMon:  procMon,
		clock:    clock,
		log:      log,
		bus:      newEventBus(),
		perModel: make(map[string]ModelStats),
		breaker:  newCircuitBreaker(cfg.CircuitBreakerEnabled, cfg.CircuitBreakerThreshold),
	}
}

// Subscribe registers a listener for every event this Orchestrator emits.
func (o *Orchestrator) Subscribe(l Listener) { o.bus.Subscribe(l) }

// ProcessBatch runs batch to completion and returns results in the
// original task order, per spec.md §4.6 step "Ordering" and §8 "Order
// preservation". Per-task failures are reported in the results, and a
// recursion-guard refusal of the whole batch is reported as one failed
// result per task with no spawn; the returned error is always nil.
func (o *Orchestrator) ProcessBatch(ctx context.Context, targetProjectPath string, batch Batch) ([]ProcessResult, error) {
	// The breaker resets to closed at the start of every external
	// invocation: half-open-on-next-processBatch, per spec.md §9 Open
	// Question 1.
	o.breaker = newCircuitBreaker(o.cfg.CircuitBreakerEnabled, o.cfg.CircuitBreakerThreshold)

	if v := o.guard.CheckTarget(targetProjectPath); !v.Allowed {
		o.log.Warn("recursion guard refused batch", "reason", v.Reason, "message", v.Message)
		return o.refuseAll(batch, v.Reason), nil
	}

	results := make([]ProcessResult, len(batch.Tasks))
	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var completed int
	var completedMu sync.Mutex

	for i, task := range batch.Tasks {
		i, task := i, task

		if o.breaker.Open() {
			results[i] = ProcessResult{TaskID: task.ID, Success: false, ErrorReason: ReasonCircuitOpen, Model: task.Model}
			o.bus.Emit(Event{Kind: EventTaskFail, Task: &task, Result: &results[i], Err: fmt.Errorf("circuit open")})
			o.recordCompletion(&completed, completedMu.Lock, completedMu.Unlock, len(batch.Tasks))
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			o.setRunning(1)
			defer o.setRunning(-1)

			results[i] = o.runTask(ctx, targetProjectPath, task)
			o.recordCompletion(&completed, completedMu.Lock, completedMu.Unlock, len(batch.Tasks))
		}()
	}

	wg.Wait()
	return results, nil
}

func (o *Orchestrator) recordCompletion(completed *int, lock, unlock func(), total int) {
	lock()
	*completed++
	n := *completed
	unlock()
	o.bus.Emit(Event{Kind: EventBatchProgress, Completed: n, Total: total})
}

func (o *Orchestrator) refuseAll(batch Batch, reason recursion.Reason) []ProcessResult {
	results := make([]ProcessResult, len(batch.Tasks))
	for i, task := range batch.Tasks {
		results[i] = ProcessResult{TaskID: task.ID, Success: false, ErrorReason: mapGuardReason(reason), Model: task.Model}
	}
	return results
}

func mapGuardReason(r recursion.Reason) ErrorReason {
	switch r {
	case recursion.ReasonSelfTarget:
		return ReasonSelfTarget
	case recursion.ReasonAgentsDisabled:
		return ReasonAgentsDisabled
	case recursion.ReasonProcessLimit:
		return ReasonProcessLimit
	default:
		return ReasonNone
	}
}

func (o *Orchestrator) setRunning(delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running += delta
}

// runTask drives one task through spawn → monitor → classify → retry,
// generalizing executor.Executor.Run's per-attempt loop to a single task
// within a concurrently-admitted pool.
func (o *Orchestrator) runTask(ctx context.Context, targetProjectPath string, task Task) ProcessResult {
	model := task.Model
	if model == "" {
		model = o.cfg.Model
	}

	var lastResult ProcessResult
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 && o.cfg.FallbackModel != "" && attempt == o.cfg.MaxRetries {
			model = o.cfg.FallbackModel
		}

		o.bus.Emit(Event{Kind: EventTaskStart, Task: &task, Attempt: attempt})
		result, classified := o.attempt(ctx, targetProjectPath, task, model, attempt)
		result.RetryCount = attempt
		result.Model = model
		lastResult = result

		if classified == nil {
			o.breaker.RecordSuccess()
			o.recordModelStats(model, result)
			o.bus.Emit(Event{Kind: EventTaskComplete, Task: &task, Result: &result})
			return result
		}

		o.breaker.RecordFailure()
		o.recordModelStats(model, result)

		if !classified.Retryable || attempt == o.cfg.MaxRetries {
			if o.cfg.GracefulDegradation && classified.Class != ClassRecursionRefusal && classified.Class != ClassBudget {
				result.Degraded = true
				result.Success = false
				o.bus.Emit(Event{Kind: EventTaskComplete, Task: &task, Result: &result})
				return result
			}
			o.bus.Emit(Event{Kind: EventTaskFail, Task: &task, Result: &result, Err: classified})
			return result
		}

		delay := o.backoffDelay(attempt + 1)
		o.bus.Emit(Event{Kind: EventTaskRetry, Task: &task, Attempt: attempt + 1, DelayMs: delay.Milliseconds()})
		o.waitDelay(delay)
	}

	return lastResult
}

// waitDelay blocks the calling goroutine until the Timer Service fires,
// keeping backoff scheduling on the injected Timer Service (per spec.md §9)
// rather than time.Sleep, so tests can drive it via timer.VirtualTimer.
func (o *Orchestrator) waitDelay(delay time.Duration) {
	done := make(chan struct{})
	o.timerSvc.Schedule(delay, func() { close(done) })
	<-done
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	base := o.cfg.BaseRetryDelay
	if base <= 0 {
		base = time.Second
	}
	var raw time.Duration
	if o.cfg.ExponentialBackoff {
		raw = time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	} else {
		raw = base
	}
	jitter := 1 + o.cfg.Jitter()
	raw = time.Duration(float64(raw) * jitter)
	if o.cfg.MaxRetryDelay > 0 && raw > o.cfg.MaxRetryDelay {
		return o.cfg.MaxRetryDelay
	}
	return raw
}

func (o *Orchestrator) recordModelStats(model string, result ProcessResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := o.perModel[model]
	stats.Attempts++
	if result.Success {
		stats.Successes++
	}
	stats.TotalCost += result.ActualCost
	stats.TotalTokens += result.TotalTokens
	o.perModel[model] = stats

	o.stats.CumulativeCost += result.ActualCost
	o.stats.CumulativeTokens += result.TotalTokens
	o.stats.CumulativeDuration += time.Duration(result.DurationMs) * time.Millisecond
	if result.Success {
		o.stats.Succeeded++
	} else if !result.Degraded {
		o.stats.Failed++
	}
}

// GetStats returns a snapshot of cumulative counters, per spec.md §4.6.
func (o *Orchestrator) GetStats() OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := o.stats
	snapshot.Running = o.running
	snapshot.CircuitState = o.breaker.State()
	snapshot.PerModel = make(map[string]ModelStats, len(o.perModel))
	for k, v := range o.perModel {
		snapshot.PerModel[k] = v
	}
	return snapshot
}
