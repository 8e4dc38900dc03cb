// Package heartbeat implements the Heartbeat Scheduler (spec.md §4.4) and
// Heartbeat Monitor (spec.md §4.5). The Scheduler is grounded on the
// teacher's pkg/daemon.RequestScheduler: a mutex-guarded map keyed by an
// identifier (there, ResourceID; here, task id) holding a slice of
// "requests". This generalizes that shape from "pending rate-limit slots"
// to "the set of live timer handles for one task", and swaps the
// wall-clock ExpiresAt checks for timer.Service handles so cancellation
// is uniform and testable against a VirtualTimer.
package heartbeat

import (
	"sync"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/timer"
)

// taskTimers holds the three handle kinds spec.md §4.4 requires per task.
type taskTimers struct {
	check              timer.Handle
	timeout            timer.Handle
	progressReporting  timer.Handle
}

// Scheduler maps task ids to their periodic health-check timer, an
// optional one-shot timeout/grace-period timer, and an optional progress
// reporting interval. Re-scheduling a check for the same task id atomically
// cancels the prior one, so no timer handle is ever leaked (spec.md §9).
type Scheduler struct {
	svc timer.Service

	mu    sync.Mutex
	tasks map[string]*taskTimers
}

// NewScheduler creates a Scheduler bound to the given Timer Service.
func NewScheduler(svc timer.Service) *Scheduler {
	return &Scheduler{svc: svc, tasks: make(map[string]*taskTimers)}
}

func (s *Scheduler) entry(taskID string) *taskTimers {
	t, ok := s.tasks[taskID]
	if !ok {
		t = &taskTimers{}
		s.tasks[taskID] = t
	}
	return t
}

// ScheduleChecks installs (or atomically replaces) the periodic health
// check for taskID, firing fn every intervalMs.
func (s *Scheduler) ScheduleChecks(taskID string, intervalMs int64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(taskID)
	if e.check != nil {
		e.check.Cancel()
	}
	e.check = s.svc.ScheduleInterval(msToDuration(intervalMs), fn)
}

// ScheduleTimeout installs (or atomically replaces) the one-shot timeout
// for taskID.
func (s *Scheduler) ScheduleTimeout(taskID string, delayMs int64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(taskID)
	if e.timeout != nil {
		e.timeout.Cancel()
	}
	e.timeout = s.svc.Schedule(msToDuration(delayMs), fn)
}

// ScheduleProgressReporting installs (or atomically replaces) the progress
// reporting interval for taskID.
func (s *Scheduler) ScheduleProgressReporting(taskID string, intervalMs int64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(taskID)
	if e.progressReporting != nil {
		e.progressReporting.Cancel()
	}
	e.progressReporting = s.svc.ScheduleInterval(msToDuration(intervalMs), fn)
}

// CancelCheck cancels taskID's periodic health check, if any.
func (s *Scheduler) CancelCheck(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[taskID]; ok && e.check != nil {
		e.check.Cancel()
		e.check = nil
	}
}

// CancelTimeout cancels taskID's one-shot timeout, if any.
func (s *Scheduler) CancelTimeout(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[taskID]; ok && e.timeout != nil {
		e.timeout.Cancel()
		e.timeout = nil
	}
}

// CancelProgressReporting cancels taskID's progress reporting interval, if any.
func (s *Scheduler) CancelProgressReporting(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[taskID]; ok && e.progressReporting != nil {
		e.progressReporting.Cancel()
		e.progressReporting = nil
	}
}

// CancelAll cancels every handle registered for taskID and forgets it.
func (s *Scheduler) CancelAll(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked(taskID)
}

func (s *Scheduler) cancelAllLocked(taskID string) {
	e, ok := s.tasks[taskID]
	if !ok {
		return
	}
	if e.check != nil {
		e.check.Cancel()
	}
	if e.timeout != nil {
		e.timeout.Cancel()
	}
	if e.progressReporting != nil {
		e.progressReporting.Cancel()
	}
	delete(s.tasks, taskID)
}

// CancelAllTasks cancels every handle for every task currently registered.
func (s *Scheduler) CancelAllTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for taskID := range s.tasks {
		s.cancelAllLocked(taskID)
	}
}

// Stats summarizes the number of active timers by kind, across all tasks.
type Stats struct {
	ActiveChecks             int
	ActiveTimeouts           int
	ActiveProgressReporters  int
	TotalActive              int
}

// Stats returns current counts of active timers across all tasks.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, e := range s.tasks {
		if e.check != nil {
			st.ActiveChecks++
		}
		if e.timeout != nil {
			st.ActiveTimeouts++
		}
		if e.progressReporting != nil {
			st.ActiveProgressReporters++
		}
	}
	st.TotalActive = st.ActiveChecks + st.ActiveTimeouts + st.ActiveProgressReporters
	return st
}

// StatsForTask returns the active-timer count for a single task id, used
// by the "no-leak cancellation" property in spec.md §8.
func (s *Scheduler) StatsForTask(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return 0
	}
	count := 0
	if e.check != nil {
		count++
	}
	if e.timeout != nil {
		count++
	}
	if e.progressReporting != nil {
		count++
	}
	return count
}
