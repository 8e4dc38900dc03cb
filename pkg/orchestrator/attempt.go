package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/aicli"
	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/heartbeat"
)

// monitorSink adapts a heartbeat.Monitor to aicli.OutputSink so live AI CLI
// stdout/stderr chunks feed the Monitor's ring buffers as they arrive,
// instead of only after the process exits.
type monitorSink struct {
	monitor *heartbeat.Monitor
	taskID  string
}

func (s *monitorSink) Stdout(chunk string) { s.monitor.FeedStdout(s.taskID, chunk) }
func (s *monitorSink) Stderr(chunk string) { s.monitor.FeedStderr(s.taskID, chunk) }

// attempt runs exactly one spawn of the AI CLI for task, per spec.md §4.6
// steps 4-6: recursion pre-flight, spawn, attach Heartbeat Monitor, wait,
// parse, cost. Returns the ProcessResult and, on failure, the classified
// error the retry loop uses to decide whether to retry.
func (o *Orchestrator) attempt(ctx context.Context, targetProjectPath string, task Task, model string, attemptNum int) (ProcessResult, *ClassifiedError) {
	v := o.guard.BeforeSpawn(targetProjectPath)
	if !v.Allowed {
		reason := mapGuardReason(v.Reason)
		return ProcessResult{TaskID: task.ID, Success: false, ErrorReason: reason},
			classified(ClassRecursionRefusal, reason, false, errors.New(v.Message))
	}
	defer o.guard.AfterSpawn()

	sched := heartbeat.NewScheduler(o.timerSvc)
	monitor := heartbeat.NewMonitor(sched, o.procMon, o.clock)

	var terminationMu sync.Mutex
	var terminationReason string
	monitor.Subscribe(func(e heartbeat.Event) {
		if e.Kind == heartbeat.EventTerminated {
			terminationMu.Lock()
			terminationReason = e.Reason
			terminationMu.Unlock()
		}
	})

	start := time.Now()
	proc, err := o.runner.Start(ctx, aicli.Request{Prompt: task.Prompt, Model: model}, o.cfg.Binary, &monitorSink{monitor: monitor, taskID: task.ID})
	if err != nil {
		if errors.Is(err, aicli.ErrCLIUnavailable) {
			cls := classified(ClassAuthConfig, ReasonCLIUnavailable, false, err)
			return ProcessResult{TaskID: task.ID, Success: false, ErrorReason: ReasonCLIUnavailable}, cls
		}
		cls := classified(ClassTransientCLI, ReasonTransient, true, err)
		return ProcessResult{TaskID: task.ID, Success: false, ErrorReason: ReasonTransient}, cls
	}

	// The per-task absolute timeout (spec.md §4.6 step 4) is driven entirely
	// through the Heartbeat Monitor's own TimeoutMs, which is itself
	// scheduled via o.timerSvc (see Scheduler.ScheduleTimeout) rather than a
	// second, wall-clock context.WithTimeout: one timer mechanism, one
	// "timeout" reason reaching classifyExit.
	hbCfg := o.cfg.Heartbeat
	if o.cfg.Timeout > 0 {
		hbCfg.TimeoutMs = o.cfg.Timeout.Milliseconds()
	}
	monitor.StartMonitoring(task.ID, proc.PID(), proc, hbCfg)
	defer monitor.StopMonitoring(task.ID)

	out, waitErr := proc.Wait()
	duration := time.Since(start)

	terminationMu.Lock()
	reason := terminationReason
	terminationMu.Unlock()

	if cls := classifyExit(out.ExitCode, waitErr, reason); cls != nil {
		return ProcessResult{
			TaskID:      task.ID,
			Success:     false,
			ErrorReason: cls.Reason,
			DurationMs:  duration.Milliseconds(),
			Cancelled:   reason != "",
		}, cls
	}

	resp, parseErr := aicli.ParseResponse(out.Stdout)
	if parseErr != nil {
		cls := classified(ClassTransientCLI, ReasonMalformedJSON, true, parseErr)
		return ProcessResult{TaskID: task.ID, Success: false, ErrorReason: ReasonMalformedJSON, DurationMs: duration.Milliseconds()}, cls
	}

	rate, ok := aicli.RateFor(model)
	if !ok {
		o.log.Warn("unknown model rate, treating as zero cost", "model", model)
	}
	cost := aicli.ComputeCost(resp.Usage, rate)

	return ProcessResult{
		TaskID:       task.ID,
		Success:      true,
		Content:      resp.Content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		ActualCost:   cost,
		DurationMs:   duration.Milliseconds(),
	}, nil
}
