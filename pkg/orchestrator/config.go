package orchestrator

import (
	"time"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
)

// Config bundles the Task Orchestrator's tunables, per spec.md §4.6.
type Config struct {
	MaxConcurrent           int
	Model                   string
	FallbackModel           string
	Timeout                 time.Duration
	MaxRetries              int
	ExponentialBackoff      bool
	BaseRetryDelay          time.Duration
	MaxRetryDelay           time.Duration
	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int
	GracefulDegradation     bool
	Verbose                 bool

	// Binary is the AI CLI executable name or path, per spec.md §6.
	Binary string

	Heartbeat heartbeat.Config

	// Jitter returns a value in [0,1) added proportionally to each backoff
	// delay. Defaults to math/rand.Float64 when nil; tests may inject a
	// fixed function for deterministic delay assertions.
	Jitter func() float64
}

// DefaultConfig returns sane orchestrator defaults. Heartbeat defaults come
// from heartbeat.DefaultConfig (spec.md §6); Timeout is kept in sync with
// the heartbeat absolute timeout unless the caller overrides one of them.
func DefaultConfig() Config {
	hb := heartbeat.DefaultConfig()
	return Config{
		MaxConcurrent:           5,
		Model:                   "sonnet",
		Timeout:                 time.Duration(hb.TimeoutMs) * time.Millisecond,
		MaxRetries:              2,
		ExponentialBackoff:      true,
		BaseRetryDelay:          time.Second,
		MaxRetryDelay:           30 * time.Second,
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		GracefulDegradation:     false,
		Binary:                  "claude",
		Heartbeat:               hb,
	}
}
