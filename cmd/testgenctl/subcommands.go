package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/aicli"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/applog"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/batch"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/config"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/history"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/orchestrator"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/procmon"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/recursion"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

// gapReportEntry mirrors batch.GapEntry for the on-disk JSON contract; the
// gap-analysis step itself is an out-of-scope external collaborator, per
// spec.md §1, so this tool only consumes its output file.
type gapReportEntry struct {
	SourceFilePath  string  `json:"source_file_path"`
	TestFilePath    string  `json:"test_file_path"`
	Prompt          string  `json:"prompt"`
	EstInputTokens  int     `json:"est_input_tokens"`
	EstOutputTokens int     `json:"est_output_tokens"`
	EstCost         float64 `json:"est_cost"`
	Complexity      float64 `json:"complexity"`
	Priority        int     `json:"priority"`
}

func loadGapReport(path string) (batch.GapReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return batch.GapReport{}, fmt.Errorf("read gap report: %w", err)
	}

	var entries []gapReportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return batch.GapReport{}, fmt.Errorf("parse gap report: %w", err)
	}

	report := batch.GapReport{Entries: make([]batch.GapEntry, len(entries))}
	for i, e := range entries {
		report.Entries[i] = batch.GapEntry{
			SourceFilePath:  e.SourceFilePath,
			TestFilePath:    e.TestFilePath,
			Prompt:          e.Prompt,
			EstInputTokens:  e.EstInputTokens,
			EstOutputTokens: e.EstOutputTokens,
			EstCost:         e.EstCost,
			Complexity:      e.Complexity,
			Priority:        e.Priority,
		}
	}
	return report, nil
}

// buildGenerator wires an orchestrator.Orchestrator and batch.Generator from
// the resolved Config, grounded on cmd/patience's createExecutor.
func buildGenerator(cfg *config.Config) (*batch.Generator, error) {
	installPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("determine install path: %w", err)
	}
	guard := recursion.New(filepath.Dir(installPath), recursion.OSEnv{}, 0)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxConcurrent = cfg.MaxConcurrent
	orchCfg.Model = cfg.Model
	orchCfg.FallbackModel = cfg.FallbackModel
	orchCfg.Timeout = cfg.Timeout
	// Keep the Heartbeat Monitor's absolute-timeout notion in lockstep with
	// the CLI's --timeout flag; pkg/orchestrator/attempt.go also re-derives
	// this per attempt, but setting it here too means orchCfg.Heartbeat
	// never silently disagrees with orchCfg.Timeout for any caller that
	// inspects it directly (--debug-config, tests).
	orchCfg.Heartbeat.TimeoutMs = cfg.Timeout.Milliseconds()
	orchCfg.MaxRetries = cfg.MaxRetries
	orchCfg.ExponentialBackoff = cfg.BackoffType != "fixed"
	orchCfg.BaseRetryDelay = cfg.BaseRetryDelay
	orchCfg.MaxRetryDelay = cfg.MaxRetryDelay
	orchCfg.CircuitBreakerEnabled = cfg.CircuitBreakerEnabled
	orchCfg.CircuitBreakerThreshold = cfg.CircuitBreakerThreshold
	orchCfg.GracefulDegradation = cfg.GracefulDegradation
	orchCfg.Binary = cfg.Binary

	log := applog.Default("testgenctl")
	orch := orchestrator.New(orchCfg, guard, aicli.NewSystemRunner(), timer.NewReal(), procmon.NewOSMonitor(), heartbeat.RealClock{}, log)
	return batch.NewGenerator(orch, log.WithComponent("batch")), nil
}

func batchConfigFrom(cfg *config.Config) batch.Config {
	return batch.Config{
		BatchSize:     cfg.BatchSize,
		Model:         cfg.Model,
		MaxConcurrent: cfg.MaxConcurrent,
		Timeout:       cfg.Timeout,
		CostLimit:     cfg.CostLimit,
	}
}

func newRunCommand() *cobra.Command {
	var project, gapReportPath, historyPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh batched run against a gap report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(cmd)
			if err != nil {
				return err
			}
			report, err := loadGapReport(gapReportPath)
			if err != nil {
				return err
			}

			gen, err := buildGenerator(cfg)
			if err != nil {
				return err
			}
			bc := batchConfigFrom(cfg)

			if _, err := gen.InitializeBatchState(project, report, bc); err != nil {
				return fmt.Errorf("initialize batch state: %w", err)
			}

			return driveBatches(cmd.Context(), gen, project, report, bc, historyPath)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "target project path")
	cmd.Flags().StringVar(&gapReportPath, "gap-report", "", "path to a gap-analysis report JSON file")
	cmd.Flags().StringVar(&historyPath, "history-db", "", "path to the run-history SQLite database")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("gap-report")
	return cmd
}

func newResumeCommand() *cobra.Command {
	var project, gapReportPath, historyPath string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a batched run from its last persisted batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(cmd)
			if err != nil {
				return err
			}
			report, err := loadGapReport(gapReportPath)
			if err != nil {
				return err
			}

			gen, err := buildGenerator(cfg)
			if err != nil {
				return err
			}

			bc, err := gen.CurrentConfig(project)
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}

			return driveBatches(cmd.Context(), gen, project, report, bc, historyPath)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "target project path")
	cmd.Flags().StringVar(&gapReportPath, "gap-report", "", "path to a gap-analysis report JSON file")
	cmd.Flags().StringVar(&historyPath, "history-db", "", "path to the run-history SQLite database")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("gap-report")
	return cmd
}

// driveBatches runs every remaining batch to completion, persisting state
// and recording history after each one, per spec.md §4.7's externally
// driven "one or more batches per invocation" loop.
func driveBatches(ctx context.Context, gen *batch.Generator, project string, report batch.GapReport, cfg batch.Config, historyPath string) error {
	var store *history.Store
	if historyPath != "" {
		var err error
		store, err = history.Open(historyPath)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer store.Close()
	}

	for {
		next, err := gen.GetNextBatch(project, report)
		if err != nil {
			return fmt.Errorf("get next batch: %w", err)
		}
		if next == nil {
			break
		}

		result, err := gen.GenerateBatch(ctx, project, report, next.Index, cfg)
		if err != nil {
			return fmt.Errorf("generate batch %d: %w", next.Index, err)
		}

		progress, err := gen.UpdateBatchState(project, result)
		if err != nil {
			return fmt.Errorf("update batch state: %w", err)
		}

		if store != nil {
			if err := store.RecordRun(history.Run{
				RunID:       progress.RunID,
				Project:     project,
				BatchIndex:  result.BatchIndex,
				Completed:   result.Stats.Completed,
				Failed:      result.Stats.Failed,
				TotalCost:   result.Stats.TotalCost,
				TotalTokens: result.Stats.TotalTokens,
				DurationMs:  result.Stats.Duration.Milliseconds(),
				RecordedAt:  progress.LastUpdatedAt,
			}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to record run history: %v\n", err)
			}
		}

		report2, err := gen.GetProgressReport(project)
		if err == nil {
			fmt.Println(report2)
		}
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted batch progress without starting a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := applog.Default("testgenctl")
			gen := batch.NewGenerator(nil, log)
			report, err := gen.GetProgressReport(project)
			if err != nil {
				return err
			}
			fmt.Println(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "target project path")
	cmd.MarkFlagRequired("project")
	return cmd
}
