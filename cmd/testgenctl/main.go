// Command testgenctl drives the AI task orchestrator described in
// SPEC_FULL.md: given a gap-analysis report and a target project, it
// batches generation tasks, runs them through the Task Orchestrator with
// heartbeat monitoring, and persists progress for resume. Grounded on
// cmd/patience/main.go's cobra root command plus flag-to-config binding
// style.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/config"
)

var (
	flagConfig  config.Config
	configFile  string
	debugConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "testgenctl",
	Short: "Batched, resumable AI test generation with process-health monitoring",
	Long: `testgenctl dispatches AI-generated test-writing tasks to a bounded pool of
subprocesses invoking an external AI CLI, watches each subprocess for
liveness and progress, terminates pathological ones, and persists batch
progress so long multi-hour runs can resume.

EXAMPLES:
  testgenctl run --project ./myrepo --gap-report gaps.json --batch-size 10
  testgenctl resume --project ./myrepo --gap-report gaps.json
  testgenctl status --project ./myrepo`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a testgenctl config file")
	rootCmd.PersistentFlags().BoolVar(&debugConfig, "debug-config", false, "print configuration resolution debug info")

	rootCmd.PersistentFlags().IntVar(&flagConfig.MaxConcurrent, "max-concurrent", 0, "maximum concurrently running tasks")
	rootCmd.PersistentFlags().StringVar(&flagConfig.Model, "model", "", "AI model identifier")
	rootCmd.PersistentFlags().StringVar(&flagConfig.FallbackModel, "fallback-model", "", "model to switch to on the final retry attempt")
	rootCmd.PersistentFlags().DurationVar(&flagConfig.Timeout, "timeout", 0, "per-task absolute timeout")
	rootCmd.PersistentFlags().IntVar(&flagConfig.MaxRetries, "max-retries", 0, "maximum retries per task")
	rootCmd.PersistentFlags().StringVar(&flagConfig.BackoffType, "backoff", "", "retry backoff type: fixed or exponential")
	rootCmd.PersistentFlags().IntVar(&flagConfig.BatchSize, "batch-size", 0, "tasks per batch (1..50)")
	rootCmd.PersistentFlags().Float64Var(&flagConfig.CostLimit, "cost-limit", 0, "maximum estimated cost per batch (0 = no limit)")
	rootCmd.PersistentFlags().StringVar(&flagConfig.Binary, "binary", "", "AI CLI binary name or path")
	rootCmd.PersistentFlags().BoolVar(&flagConfig.GracefulDegradation, "graceful-degradation", false, "mark exhausted-retry failures as degraded instead of hard errors")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
}

// loadConfiguration loads configuration through the full precedence chain:
// defaults < config file < environment < CLI flags.
func loadConfiguration(cmd *cobra.Command) (*config.Config, error) {
	var configPath string
	if configFile != "" {
		configPath = configFile
	} else if cwd, err := os.Getwd(); err == nil {
		if found := config.FindConfigFile(cwd); found != "" {
			configPath = found
		}
	}

	var effectiveFlagConfig *config.Config
	if hasAnyFlagsSet(cmd) {
		effectiveFlagConfig = &flagConfig
	}

	finalConfig, debugInfo, err := config.LoadWithPrecedence(configPath, effectiveFlagConfig, debugConfig)
	if err != nil {
		return nil, err
	}

	if debugConfig && debugInfo != nil {
		debugInfo.PrintDebugInfo()
		fmt.Println()
	}

	return finalConfig, nil
}

func hasAnyFlagsSet(cmd *cobra.Command) bool {
	flagNames := []string{
		"max-concurrent", "model", "fallback-model", "timeout", "max-retries",
		"backoff", "batch-size", "cost-limit", "binary", "graceful-degradation",
	}
	for _, name := range flagNames {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
