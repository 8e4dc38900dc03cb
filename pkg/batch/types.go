// Package batch implements the Batched Generator from spec.md §4.7: it
// slices a gap-analysis result into fixed-size batches, drives each one
// through the Task Orchestrator, and persists progress so a long run can
// resume across invocations. Grounded on the teacher's
// pkg/storage.MetricsStorage (mutex-guarded, bounded in-memory store),
// generalized here to a single persisted BatchProgress document with
// write-to-temp+rename durability instead of an in-memory ring.
package batch

import (
	"time"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/orchestrator"
)

// GapEntry is one unit of work surfaced by the (out-of-scope) gap-analysis
// collaborator, per spec.md §1/§4.7.
type GapEntry struct {
	SourceFilePath  string
	TestFilePath    string
	Prompt          string
	EstInputTokens  int
	EstOutputTokens int
	EstCost         float64
	Complexity      float64
	Priority        int
}

// GapReport is the input the Batched Generator slices into batches.
type GapReport struct {
	Entries []GapEntry
}

// Config bundles the Batched Generator's tunables, per spec.md §4.7.
type Config struct {
	BatchSize      int
	Model          string
	MaxConcurrent  int
	Timeout        time.Duration
	MinComplexity  float64
	CostLimit      float64
}

// BenefitVerdict is the result of ValidateBatchingBenefit.
type BenefitVerdict struct {
	Beneficial bool
	Reason     string
}

// BatchProgress is the persisted state machine, per spec.md §3. It is the
// sole source of truth for resume: every field here round-trips through
// JSON unchanged.
type BatchProgress struct {
	RunID              string    `json:"run_id"`
	TargetProjectPath  string    `json:"target_project_path"`
	TotalTasks         int       `json:"total_tasks"`
	TotalBatches       int       `json:"total_batches"`
	NextBatchIndex     int       `json:"next_batch_index"`
	CompletedBatches   int       `json:"completed_batches"`
	CompletedTaskCount int       `json:"completed_task_count"`
	FailedTaskCount    int       `json:"failed_task_count"`
	EstimatedTotalCost float64   `json:"estimated_total_cost"`
	ActualCumulativeCost float64 `json:"actual_cumulative_cost"`
	StartedAt          time.Time `json:"started_at"`
	LastUpdatedAt      time.Time `json:"last_updated_at"`
	Config             Config    `json:"config"`
}

// NextBatch is what GetNextBatch hands the caller before spawning.
type NextBatch struct {
	Index          int
	Tasks          []GapEntry
	EstimatedCost  float64
	EstimatedTokens int
}

// BatchStats summarizes one completed batch's outcome.
type BatchStats struct {
	Completed  int
	Failed     int
	TotalCost  float64
	TotalTokens int
	Duration   time.Duration
}

// BatchResult is GenerateBatch's return value, fed into UpdateBatchState.
type BatchResult struct {
	BatchIndex int
	BatchSize  int
	Results    []orchestrator.ProcessResult
	Stats      BatchStats
}
