package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/applog"
)

const stateDir = ".claude-testing"
const stateFile = "batch-state.json"
const lockFile = "batch-state.lock"

func statePath(project string) string {
	return filepath.Join(project, stateDir, stateFile)
}

func lockPath(project string) string {
	return filepath.Join(project, stateDir, lockFile)
}

// projectLock is an advisory flock held for the duration of one
// load-modify-save cycle, guarding concurrent invocations on the same
// project per spec.md §5 "Shared-resource policy."
type projectLock struct {
	f *os.File
}

// lockProject acquires an exclusive advisory lock on project's state
// directory, creating the directory if needed.
func lockProject(project string) (*projectLock, error) {
	dir := filepath.Join(project, stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.OpenFile(lockPath(project), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &projectLock{f: f}, nil
}

func (l *projectLock) Unlock() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}

// loadState reads the persisted BatchProgress for project. A missing,
// corrupt, or schema-mismatched file is treated as absent (ok=false) and
// logged, per spec.md §4.7 "no best-effort repair."
func loadState(project string, log *applog.Logger) (*BatchProgress, bool) {
	path := statePath(project)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read batch state, treating as absent", "path", path, "error", err)
		}
		return nil, false
	}

	var progress BatchProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		log.Warn("corrupt batch state, treating as absent", "path", path, "error", err)
		return nil, false
	}
	if progress.RunID == "" || progress.TargetProjectPath == "" {
		log.Warn("schema-mismatched batch state, treating as absent", "path", path)
		return nil, false
	}
	return &progress, true
}

// saveState writes progress atomically: encode to a temp file in the same
// directory, then rename over the target, per spec.md §4.7's atomicity
// requirement.
func saveState(project string, progress *BatchProgress) error {
	dir := filepath.Join(project, stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "batch-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, statePath(project)); err != nil {
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}

// deleteState removes the persisted file, per CleanupBatchState.
func deleteState(project string) error {
	err := os.Remove(statePath(project))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove batch state: %w", err)
	}
	return nil
}
