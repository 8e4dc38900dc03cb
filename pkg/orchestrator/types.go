// Package orchestrator implements the Task Orchestrator from spec.md §4.6:
// a bounded-concurrency pool of AI CLI invocations with retries,
// exponential backoff, a circuit breaker, model fallback, per-task cost
// tracking, and per-task timeout enforcement. Grounded directly on the teacher's
// pkg/executor.Executor, whose single-process retry loop (attempt →
// classify → backoff → retry) is generalized here from "one command,
// sequential attempts" to "N concurrently admitted tasks, each a spawned
// AI CLI invocation with a circuit breaker and model fallback layered on
// top of the same skeleton."
package orchestrator

import "time"

// Task is one AI generation unit, per spec.md §3. Immutable once created by
// the Batched Generator's task preparation step.
type Task struct {
	ID              string
	SourceFilePath  string
	TestFilePath    string
	Prompt          string
	EstInputTokens  int
	EstOutputTokens int
	EstCost         float64
	Complexity      float64
	Priority        int
	Model           string
	Context         map[string]string
}

// Batch is a fixed-size, ordered slice of Task, per spec.md §3.
type Batch struct {
	ID             string
	Tasks          []Task
	EstTotalTokens int
	EstTotalCost   float64
	MaxConcurrency int
	Index          int
}

// ErrorReason enumerates why a task failed, surfaced on ProcessResult so
// callers can distinguish soft failures from fatal ones without parsing
// error strings.
type ErrorReason string

const (
	ReasonNone           ErrorReason = ""
	ReasonSelfTarget     ErrorReason = "self-target"
	ReasonAgentsDisabled ErrorReason = "agents-disabled"
	ReasonProcessLimit   ErrorReason = "process-limit"
	ReasonCLIUnavailable ErrorReason = "cli-unavailable"
	ReasonMalformedJSON  ErrorReason = "malformed-json"
	ReasonTransient      ErrorReason = "transient"
	ReasonSilent         ErrorReason = "silent"
	ReasonErrorFlood     ErrorReason = "error-flood"
	ReasonAwaitingStdin  ErrorReason = "awaiting-stdin"
	ReasonTimeout        ErrorReason = "timeout"
	ReasonBudget         ErrorReason = "budget"
	ReasonAuth           ErrorReason = "auth"
	ReasonCircuitOpen    ErrorReason = "circuit-open"
)

// ProcessResult is the per-task outcome, per spec.md §3. Never mutated
// after construction.
type ProcessResult struct {
	TaskID       string
	Success      bool
	Content      string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	ActualCost   float64
	DurationMs   int64
	ErrorReason  ErrorReason
	RetryCount   int
	Model        string
	Cancelled    bool
	Degraded     bool
}

// ModelStats is cumulative per-model cost/token/outcome tracking,
// generalizing the teacher's backoff.EffectivenessTracker (per-strategy
// success rate) to per-model cost effectiveness.
type ModelStats struct {
	Attempts     int
	Successes    int
	TotalCost    float64
	TotalTokens  int
	AverageDelay time.Duration
}

// OrchestratorStats is a live snapshot, per spec.md §3.
type OrchestratorStats struct {
	Queued            int
	Running           int
	Succeeded         int
	Failed            int
	CumulativeCost    float64
	CumulativeTokens  int
	CumulativeDuration time.Duration
	CircuitState      CircuitState
	PerModel          map[string]ModelStats
}
