// Package health implements the pure Health Analyzer: given a process's
// metrics and a policy, decide whether it is healthy, warn-worthy, or due
// for termination. Grounded on the teacher's pkg/conditions.Checker, which
// establishes the idiom of ordered predicate checks over captured output
// with a regex-driven, case-insensitive matcher, generalized from
// "success/failure exit classification" to "process health classification."
package health

import (
	"regexp"
	"strings"
	"time"
)

// earlyPhase is the grace window (spec.md §4.3) during which silence alone
// never triggers termination.
const earlyPhase = 60 * time.Second

// ProcessMetrics is a single tick's snapshot, per spec.md §3.
type ProcessMetrics struct {
	CPUPercent          float64
	MemoryMB            float64
	OutputRate          float64 // lines/minute over the analysis window
	TimeSinceLastOutput time.Duration
	ErrorCount          int
	ProcessRuntime      time.Duration
	ProgressMarkerCount int
	IsWaitingForInput   bool
}

// AnalysisConfig is the Health Analyzer's policy input, per spec.md §4.3.
type AnalysisConfig struct {
	CPUThreshold           float64
	MemoryThresholdMB      float64
	MinOutputRate          float64
	MaxSilenceDuration     time.Duration
	MaxErrorCount          int
	ProgressMarkerPatterns []string
	MinProgressMarkers     int
	AnalysisWindow         time.Duration
}

// DefaultConfig returns the heartbeat defaults from spec.md §6.
func DefaultConfig() AnalysisConfig {
	return AnalysisConfig{
		CPUThreshold:       80,
		MemoryThresholdMB:  1000,
		MinOutputRate:      0.1,
		MaxSilenceDuration: 120 * time.Second,
		MaxErrorCount:      50,
		AnalysisWindow:     60 * time.Second,
		MinProgressMarkers: 1,
		ProgressMarkerPatterns: []string{
			`(?i)analyzing`, `(?i)processing`, `(?i)generating`, `(?i)writing`,
			`(?i)completed`, `(?i)done`, `(?i)finished`,
			`\d+%`, `(?i)step \d+`, `(?i)phase \d+`, `(?i)task \d+/\d+`,
		},
	}
}

// Verdict is the Health Analyzer's output, per spec.md §3. It is never
// mutated after construction.
type Verdict struct {
	IsHealthy     bool
	ShouldTerminate bool
	Warnings      []string
	Reason        string
	IsEarlyPhase  bool
}

// Analyze is a pure function: identical metrics and config always produce
// an identical Verdict (the "Analyzer determinism" property in spec.md §8).
// Rules are evaluated in the order given by spec.md §4.3.
func Analyze(m ProcessMetrics, cfg AnalysisConfig) Verdict {
	isEarly := m.ProcessRuntime <= earlyPhase

	// Rule 1: silence.
	if m.TimeSinceLastOutput > cfg.MaxSilenceDuration &&
		m.ProgressMarkerCount < cfg.MinProgressMarkers &&
		m.ProcessRuntime > earlyPhase {
		return Verdict{IsHealthy: false, ShouldTerminate: true, Reason: "silent"}
	}

	// Rule 2: waiting for input.
	if m.IsWaitingForInput {
		return Verdict{IsHealthy: false, ShouldTerminate: true, Reason: "awaiting stdin"}
	}

	// Rule 3: error flood.
	if m.ErrorCount > cfg.MaxErrorCount {
		return Verdict{IsHealthy: false, ShouldTerminate: true, Reason: "error flood"}
	}

	var warnings []string

	// Rule 4: resource pressure (healthy, but warn).
	if m.CPUPercent > cfg.CPUThreshold || m.MemoryMB > cfg.MemoryThresholdMB {
		warnings = append(warnings, "High CPU/memory")
	}

	// Rule 5: low output rate, only meaningful once early phase is over...
	// except spec.md's scenario 4 explicitly tags a low-rate warning during
	// early phase too, distinguished by the IsEarlyPhase flag rather than
	// by suppressing the warning outright.
	if m.OutputRate < cfg.MinOutputRate {
		if isEarly {
			warnings = append(warnings, "Low output rate (early phase)")
		} else if m.ProcessRuntime >= 60*time.Second {
			warnings = append(warnings, "Low output rate")
		}
	}

	return Verdict{
		IsHealthy:       true,
		ShouldTerminate: false,
		Warnings:        warnings,
		IsEarlyPhase:    isEarly,
	}
}

// CalculateOutputRate computes lines/minute for entries whose timestamp
// falls within windowMs of "now" (the latest entry timestamp is used as
// "now" so the function stays pure and testable without a clock).
func CalculateOutputRate(entries []time.Time, windowMs time.Duration) float64 {
	if len(entries) == 0 || windowMs <= 0 {
		return 0
	}
	now := entries[len(entries)-1]
	cutoff := now.Add(-windowMs)
	count := 0
	for _, ts := range entries {
		if ts.After(cutoff) {
			count++
		}
	}
	minutes := windowMs.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(count) / minutes
}

var inputWaitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)press any key`),
	regexp.MustCompile(`\(y/n\)`),
	regexp.MustCompile(`(?i)\(yes/no\)`),
	regexp.MustCompile(`(?i)continue\?`),
	regexp.MustCompile(`(?i)enter password`),
	regexp.MustCompile(`(?i)\[y/n\]`),
}

// DetectInputWait reports whether tailText looks like the process is
// blocked on an interactive prompt.
func DetectInputWait(tailText string) bool {
	trimmed := strings.TrimSpace(tailText)
	if trimmed == "" {
		return false
	}
	for _, re := range inputWaitPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// DetectProgressMarkers counts how many of the given regex patterns match
// anywhere in text. Invalid patterns are skipped rather than causing a
// panic, since patterns may originate from configuration.
func DetectProgressMarkers(text string, patterns []string) int {
	count := 0
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			count++
		}
	}
	return count
}
