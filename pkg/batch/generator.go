package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/applog"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/orchestrator"
)

// Generator wraps an Orchestrator with the resumable, fixed-size batching
// layer from spec.md §4.7.
type Generator struct {
	orch *orchestrator.Orchestrator
	log  *applog.Logger
}

// NewGenerator creates a Generator driving batches through orch.
func NewGenerator(orch *orchestrator.Orchestrator, log *applog.Logger) *Generator {
	if log == nil {
		log = applog.Default("batch")
	}
	return &Generator{orch: orch, log: log}
}

// filteredEntries applies minComplexity, the one selection rule spec.md
// §4.7 names, consistently across every operation that slices the report.
func filteredEntries(report GapReport, cfg Config) []GapEntry {
	if cfg.MinComplexity <= 0 {
		return report.Entries
	}
	out := make([]GapEntry, 0, len(report.Entries))
	for _, e := range report.Entries {
		if e.Complexity >= cfg.MinComplexity {
			out = append(out, e)
		}
	}
	return out
}

// ValidateBatchingBenefit reports whether batching is worthwhile for
// report, per spec.md §4.7: beneficial iff the task count is at least
// 2×batchSize.
func (g *Generator) ValidateBatchingBenefit(report GapReport, cfg Config) BenefitVerdict {
	n := len(filteredEntries(report, cfg))
	threshold := 2 * cfg.BatchSize
	if n >= threshold {
		return BenefitVerdict{Beneficial: true, Reason: fmt.Sprintf("%d tasks meets or exceeds 2x batch size (%d)", n, threshold)}
	}
	return BenefitVerdict{Beneficial: false, Reason: fmt.Sprintf("%d tasks is below 2x batch size (%d); process directly", n, threshold)}
}

// InitializeBatchState persists a fresh BatchProgress for project, per
// spec.md §4.7 "absent → initialized".
func (g *Generator) InitializeBatchState(project string, report GapReport, cfg Config) (*BatchProgress, error) {
	if err := validateBatchSize(cfg.BatchSize); err != nil {
		return nil, err
	}

	lock, err := lockProject(project)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	entries := filteredEntries(report, cfg)
	totalBatches := (len(entries) + cfg.BatchSize - 1) / cfg.BatchSize

	var estTotalCost float64
	for _, e := range entries {
		estTotalCost += e.EstCost
	}

	now := time.Now()
	progress := &BatchProgress{
		RunID:              uuid.NewString(),
		TargetProjectPath:  project,
		TotalTasks:         len(entries),
		TotalBatches:       totalBatches,
		NextBatchIndex:     0,
		EstimatedTotalCost: estTotalCost,
		StartedAt:          now,
		LastUpdatedAt:      now,
		Config:             cfg,
	}

	if err := saveState(project, progress); err != nil {
		return nil, err
	}
	g.log.Info("initialized batch state", "run_id", progress.RunID, "total_tasks", progress.TotalTasks, "total_batches", progress.TotalBatches)
	return progress, nil
}

// GetNextBatch loads persisted state (absent counts as index 0) and slices
// report into the next fixed-size window, per spec.md §4.7. Returns nil
// when every batch is complete.
func (g *Generator) GetNextBatch(project string, report GapReport) (*NextBatch, error) {
	progress, ok := loadState(project, g.log)
	index := 0
	cfg := Config{BatchSize: 10}
	if ok {
		index = progress.NextBatchIndex
		cfg = progress.Config
	}
	if err := validateBatchSize(cfg.BatchSize); err != nil {
		return nil, err
	}

	entries := filteredEntries(report, cfg)
	start := index * cfg.BatchSize
	if start >= len(entries) {
		return nil, nil
	}
	end := start + cfg.BatchSize
	if end > len(entries) {
		end = len(entries)
	}

	window := entries[start:end]
	var estCost float64
	var estTokens int
	for _, e := range window {
		estCost += e.EstCost
		estTokens += e.EstInputTokens + e.EstOutputTokens
	}

	return &NextBatch{Index: index, Tasks: window, EstimatedCost: estCost, EstimatedTokens: estTokens}, nil
}

// CurrentConfig returns the Config persisted for project, so a caller
// resuming a run (with no flags of its own) can drive GenerateBatch with
// the same settings the run was initialized with.
func (g *Generator) CurrentConfig(project string) (Config, error) {
	progress, ok := loadState(project, g.log)
	if !ok {
		return Config{}, fmt.Errorf("no batch state for project %q", project)
	}
	return progress.Config, nil
}

// GenerateBatch prepares tasks from batchIndex's window, refuses if the
// window's estimated cost exceeds cfg.CostLimit, then drives it through the
// Orchestrator, per spec.md §4.7 and invariant I6 (check-before-schedule).
func (g *Generator) GenerateBatch(ctx context.Context, project string, report GapReport, batchIndex int, cfg Config) (*BatchResult, error) {
	if err := validateBatchSize(cfg.BatchSize); err != nil {
		return nil, err
	}

	entries := filteredEntries(report, cfg)
	start := batchIndex * cfg.BatchSize
	if start >= len(entries) {
		return nil, fmt.Errorf("batch index %d out of range for %d tasks", batchIndex, len(entries))
	}
	end := start + cfg.BatchSize
	if end > len(entries) {
		end = len(entries)
	}
	window := entries[start:end]

	tasks := make([]orchestrator.Task, len(window))
	var estCost float64
	var estTokens int
	for i, e := range window {
		tasks[i] = orchestrator.Task{
			ID:              fmt.Sprintf("%s-%d", uuid.NewString(), i),
			SourceFilePath:  e.SourceFilePath,
			TestFilePath:    e.TestFilePath,
			Prompt:          e.Prompt,
			EstInputTokens:  e.EstInputTokens,
			EstOutputTokens: e.EstOutputTokens,
			EstCost:         e.EstCost,
			Complexity:      e.Complexity,
			Priority:        e.Priority,
			Model:           cfg.Model,
		}
		estCost += e.EstCost
		estTokens += e.EstInputTokens + e.EstOutputTokens
	}

	if cfg.CostLimit > 0 && estCost > cfg.CostLimit {
		return nil, fmt.Errorf("batch %d estimated cost %.4f exceeds cost limit %.4f", batchIndex, estCost, cfg.CostLimit)
	}

	b := orchestrator.Batch{
		ID:             uuid.NewString(),
		Tasks:          tasks,
		EstTotalTokens: estTokens,
		EstTotalCost:   estCost,
		MaxConcurrency: cfg.MaxConcurrent,
		Index:          batchIndex,
	}

	start2 := time.Now()
	results, err := g.orch.ProcessBatch(ctx, project, b)
	if err != nil {
		return nil, fmt.Errorf("process batch %d: %w", batchIndex, err)
	}
	duration := time.Since(start2)

	stats := BatchStats{Duration: duration}
	for _, r := range results {
		if r.Success {
			stats.Completed++
		} else {
			stats.Failed++
		}
		stats.TotalCost += r.ActualCost
		stats.TotalTokens += r.TotalTokens
	}

	return &BatchResult{BatchIndex: batchIndex, BatchSize: len(tasks), Results: results, Stats: stats}, nil
}

// UpdateBatchState loads persisted state, applies batchResult, and writes
// the result atomically, per spec.md §4.7 "running → updated" and
// invariant I3 (nextBatchIndex strictly increases).
func (g *Generator) UpdateBatchState(project string, result *BatchResult) (*BatchProgress, error) {
	lock, err := lockProject(project)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	progress, ok := loadState(project, g.log)
	if !ok {
		return nil, fmt.Errorf("no batch state for project %q; call InitializeBatchState first", project)
	}

	progress.CompletedBatches++
	progress.CompletedTaskCount += result.Stats.Completed
	progress.FailedTaskCount += result.Stats.Failed
	progress.ActualCumulativeCost += result.Stats.TotalCost
	progress.NextBatchIndex = result.BatchIndex + 1
	progress.LastUpdatedAt = time.Now()

	if err := saveState(project, progress); err != nil {
		return nil, err
	}
	g.log.Info("updated batch state", "run_id", progress.RunID, "next_batch_index", progress.NextBatchIndex, "completed_batches", progress.CompletedBatches)
	return progress, nil
}

// GetProgressReport renders persisted state as a human-readable multi-line
// report, per spec.md §4.7 and §7 "user-visible behavior."
func (g *Generator) GetProgressReport(project string) (string, error) {
	progress, ok := loadState(project, g.log)
	if !ok {
		return "", fmt.Errorf("no batch state for project %q", project)
	}

	var avgCost float64
	if progress.CompletedTaskCount > 0 {
		avgCost = progress.ActualCumulativeCost / float64(progress.CompletedTaskCount)
	}

	return fmt.Sprintf(
		"Run %s for %s\nBatches:    %d/%d complete\nTasks:      %d/%d complete (%d failed)\nCost:       %.4f actual of %.4f estimated (avg %.4f/task)\nLast update: %s\n",
		progress.RunID, progress.TargetProjectPath,
		progress.CompletedBatches, progress.TotalBatches,
		progress.CompletedTaskCount, progress.TotalTasks, progress.FailedTaskCount,
		progress.ActualCumulativeCost, progress.EstimatedTotalCost, avgCost,
		progress.LastUpdatedAt.Format(time.RFC3339),
	), nil
}

// CleanupBatchState deletes the persisted file, per spec.md §4.7.
func (g *Generator) CleanupBatchState(project string) error {
	lock, err := lockProject(project)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return deleteState(project)
}

func validateBatchSize(size int) error {
	if size < 1 || size > 50 {
		return fmt.Errorf("batch size %d out of range: must be 1..50", size)
	}
	return nil
}
