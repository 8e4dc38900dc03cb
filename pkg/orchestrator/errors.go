package orchestrator

import (
	"errors"

	"github.com/SynidSweet/claude-testing-infrastructure-sub015/pkg/aicli"
)

// ErrorClass is the spec.md §7 taxonomy tag.
type ErrorClass string

const (
	ClassRecursionRefusal  ErrorClass = "recursion-refusal"
	ClassTransientCLI      ErrorClass = "transient-cli"
	ClassHealthTermination ErrorClass = "health-termination"
	ClassTimeout           ErrorClass = "timeout"
	ClassBudget            ErrorClass = "budget"
	ClassAuthConfig        ErrorClass = "auth-config"
	ClassCircuitOpen       ErrorClass = "circuit-open"
)

// ClassifiedError wraps a cause with its taxonomy class and retry policy,
// matching the teacher's fmt.Errorf("...: %w", err) wrapping convention
// while adding the structured tag the retry loop and caller both need.
type ClassifiedError struct {
	Class     ErrorClass
	Reason    ErrorReason
	Retryable bool
	Cause     error
}

func (e *ClassifiedError) Error() string {
	if e.Cause == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Cause.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

func classified(class ErrorClass, reason ErrorReason, retryable bool, cause error) *ClassifiedError {
	return &ClassifiedError{Class: class, Reason: reason, Retryable: retryable, Cause: cause}
}

// classifyExit maps one AI CLI invocation's outcome (exit code, Wait
// error, or heartbeat-initiated termination reason) to the spec.md §7
// taxonomy. heartbeatReason is "" when the process exited on its own.
func classifyExit(exitCode int, err error, heartbeatReason string) *ClassifiedError {
	switch heartbeatReason {
	case "timeout":
		return classified(ClassTimeout, ReasonTimeout, true, err)
	case "silent":
		return classified(ClassHealthTermination, ReasonSilent, true, err)
	case "error flood":
		return classified(ClassHealthTermination, ReasonErrorFlood, true, err)
	case "awaiting stdin":
		return classified(ClassHealthTermination, ReasonAwaitingStdin, false, err)
	}

	if err != nil && errors.Is(err, aicli.ErrCLIUnavailable) {
		return classified(ClassAuthConfig, ReasonCLIUnavailable, false, err)
	}
	if err != nil {
		return classified(ClassTransientCLI, ReasonTransient, true, err)
	}
	if exitCode != 0 {
		return classified(ClassTransientCLI, ReasonTransient, true, err)
	}
	return nil
}
