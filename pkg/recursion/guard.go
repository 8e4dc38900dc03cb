// Package recursion implements the pre-flight safety net against the tool
// targeting its own installation directory, per spec.md §4.8. It has no
// direct teacher analogue; its validate-before-side-effect shape is
// grounded on pkg/config.Config.Validate's structured refusal-reason
// style (a typed error describing exactly which field/check failed,
// checked before anything is persisted or spawned).
package recursion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Reason enumerates why a Guard refused a target.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonSelfTarget    Reason = "self-target"
	ReasonAgentsDisabled Reason = "agents-disabled"
	ReasonProcessLimit  Reason = "process-limit"
)

// Verdict is the result of a Guard check.
type Verdict struct {
	Allowed bool
	Reason  Reason
	Message string
}

// Env abstracts environment variable lookup so tests don't mutate process
// state.
type Env interface {
	Getenv(key string) string
}

// Guard refuses to let the tool spawn work against its own install
// directory, or beyond a process-wide spawn cap.
type Guard struct {
	installPath string
	env         Env
	maxSpawns   int

	mu     sync.Mutex
	active int
}

// New creates a Guard. installPath is the running tool's own directory;
// maxSpawns bounds the number of concurrently live spawns this process
// will ever permit, independent of any single orchestrator's concurrency
// cap (a belt-and-suspenders process-wide ceiling).
func New(installPath string, env Env, maxSpawns int) *Guard {
	if maxSpawns <= 0 {
		maxSpawns = 256
	}
	return &Guard{installPath: filepath.Clean(installPath), env: env, maxSpawns: maxSpawns}
}

// CheckTarget evaluates whether target may be operated on at all (called
// once at Orchestrator startup, per spec.md §4.6 step 1).
func (g *Guard) CheckTarget(target string) Verdict {
	if isTruthy(g.env.Getenv("DISABLE_HEADLESS_AGENTS")) {
		return Verdict{Reason: ReasonAgentsDisabled, Message: "DISABLE_HEADLESS_AGENTS is set"}
	}

	cleanTarget := filepath.Clean(target)
	if pathsOverlap(cleanTarget, g.installPath) {
		return Verdict{Reason: ReasonSelfTarget, Message: fmt.Sprintf("target %q overlaps with tool install path %q", cleanTarget, g.installPath)}
	}

	return Verdict{Allowed: true}
}

// BeforeSpawn re-checks the target and enforces the process-wide spawn
// cap. Callers must pair every successful BeforeSpawn with AfterSpawn once
// the child exits.
func (g *Guard) BeforeSpawn(target string) Verdict {
	if v := g.CheckTarget(target); !v.Allowed {
		return v
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active >= g.maxSpawns {
		return Verdict{Reason: ReasonProcessLimit, Message: fmt.Sprintf("process-wide spawn cap of %d reached", g.maxSpawns)}
	}
	g.active++
	return Verdict{Allowed: true}
}

// AfterSpawn releases one slot of the process-wide spawn cap.
func (g *Guard) AfterSpawn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

func pathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a+sep, b+sep) || strings.HasPrefix(b+sep, a+sep)
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// OSEnv implements Env via os.Getenv.
type OSEnv struct{}

func (OSEnv) Getenv(key string) string { return os.Getenv(key) }
