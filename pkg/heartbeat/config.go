package heartbeat

import "github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/health"

// Config bundles the per-task timer cadence with the Health Analyzer
// policy, per spec.md §6 defaults.
type Config struct {
	IntervalMs         int64
	TimeoutMs          int64
	ProgressIntervalMs int64
	GracePeriodMs       int64
	Health             health.AnalysisConfig
}

// DefaultConfig returns the heartbeat defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		IntervalMs:         30000,
		TimeoutMs:          900000,
		ProgressIntervalMs: 10000,
		GracePeriodMs:      5000,
		Health:             health.DefaultConfig(),
	}
}
