package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_SilentKill(t *testing.T) {
	// Scenario 3: one line then 130s of silence, runtime past early phase,
	// no progress markers seen.
	cfg := DefaultConfig()
	m := ProcessMetrics{
		TimeSinceLastOutput: 130 * time.Second,
		ProgressMarkerCount: 0,
		ProcessRuntime:      150 * time.Second,
	}

	v := Analyze(m, cfg)
	assert.False(t, v.IsHealthy)
	assert.True(t, v.ShouldTerminate)
	assert.Equal(t, "silent", v.Reason)
}

func TestAnalyze_EarlyPhaseTolerance(t *testing.T) {
	// Scenario 4: emits one line at t=5s then nothing; evaluated at t=45s.
	cfg := DefaultConfig()
	m := ProcessMetrics{
		TimeSinceLastOutput: 40 * time.Second,
		OutputRate:          0.02,
		ProcessRuntime:      45 * time.Second,
	}

	v := Analyze(m, cfg)
	assert.True(t, v.IsHealthy)
	assert.False(t, v.ShouldTerminate)
	assert.Contains(t, v.Warnings, "Low output rate (early phase)")
	assert.True(t, v.IsEarlyPhase)
}

func TestAnalyze_AwaitingInputTerminatesEvenInEarlyPhase(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{
		ProcessRuntime:    10 * time.Second,
		IsWaitingForInput: true,
	}

	v := Analyze(m, cfg)
	assert.True(t, v.ShouldTerminate)
	assert.Equal(t, "awaiting stdin", v.Reason)
}

func TestAnalyze_ErrorFloodTerminatesEvenInEarlyPhase(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{
		ProcessRuntime: 5 * time.Second,
		ErrorCount:     51,
	}

	v := Analyze(m, cfg)
	assert.True(t, v.ShouldTerminate)
	assert.Equal(t, "error flood", v.Reason)
}

func TestAnalyze_HighResourceWarningStaysHealthy(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{
		ProcessRuntime: 200 * time.Second,
		CPUPercent:     95,
		OutputRate:     10,
	}

	v := Analyze(m, cfg)
	assert.True(t, v.IsHealthy)
	assert.False(t, v.ShouldTerminate)
	assert.Contains(t, v.Warnings, "High CPU/memory")
}

func TestAnalyze_MultipleWarningsAreAMultiset(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{
		ProcessRuntime: 200 * time.Second,
		CPUPercent:     95,
		OutputRate:     0.01,
	}

	v := Analyze(m, cfg)
	assert.Len(t, v.Warnings, 2)
	assert.Contains(t, v.Warnings, "High CPU/memory")
	assert.Contains(t, v.Warnings, "Low output rate")
}

func TestAnalyze_HealthyQuietRun(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{ProcessRuntime: 10 * time.Second, OutputRate: 5}

	v := Analyze(m, cfg)
	assert.True(t, v.IsHealthy)
	assert.Empty(t, v.Warnings)
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	m := ProcessMetrics{ProcessRuntime: 70 * time.Second, CPUPercent: 50, OutputRate: 0.2}

	v1 := Analyze(m, cfg)
	v2 := Analyze(m, cfg)
	assert.Equal(t, v1, v2)
}

func TestCalculateOutputRate(t *testing.T) {
	base := time.Unix(0, 0)
	entries := []time.Time{
		base,                       // outside the 60s window ending at the last entry
		base.Add(10 * time.Second), // exactly at the window start, which is excluded
		base.Add(20 * time.Second),
		base.Add(70 * time.Second), // last entry, taken as "now"
	}
	rate := CalculateOutputRate(entries, 60*time.Second)
	assert.InDelta(t, 2.0, rate, 0.001)
}

func TestDetectInputWait(t *testing.T) {
	assert.True(t, DetectInputWait("Continue? (Y/n)"))
	assert.True(t, DetectInputWait("Press any key to continue"))
	assert.False(t, DetectInputWait("Generating test file 3/10"))
	assert.False(t, DetectInputWait(""))
}

func TestDetectProgressMarkers(t *testing.T) {
	patterns := DefaultConfig().ProgressMarkerPatterns
	assert.Equal(t, 2, DetectProgressMarkers("analyzing repo, 45% complete", patterns))
	assert.Equal(t, 0, DetectProgressMarkers("nothing relevant here", patterns))
}
