package task

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine.
var (
	// ErrExecutorMissing means no executor is registered for the task type.
	// It is fatal: the task is not retried.
	ErrExecutorMissing = errors.New("no executor registered for task type")

	// ErrCancelled is returned from checkpoints after Token.Cancel.
	ErrCancelled = errors.New("execution cancelled")

	// ErrStopped is returned from checkpoints after the timeout sweep raised the stop flag.
	ErrStopped = errors.New("execution stopped after exceeding its time budget")

	// ErrResourceExhausted marks failures caused by load or an open circuit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrDependencyFailed marks a task whose dependency ended without completing.
	ErrDependencyFailed = errors.New("dependency did not complete")
)

// Phase identifies where a condition was evaluated.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
	PhaseRun  Phase = "run"
)

// ConditionError reports an unmet pre- or post-condition. It is a control
// flow failure and always retryable.
type ConditionError struct {
	Phase     Phase
	Condition string
	Err       error // Set when the check itself errored
}

func (e *ConditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s-condition %q failed: %v", e.Phase, e.Condition, e.Err)
	}
	return fmt.Sprintf("%s-condition %q not met", e.Phase, e.Condition)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// DetectionError reports that an element or scene could not be recognised.
type DetectionError struct {
	Target string
	Err    error
}

func (e *DetectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("detection of %q failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%q not detected", e.Target)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// WaitTimeoutError reports a wait or scene deadline that expired.
type WaitTimeoutError struct {
	What  string
	After time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.After, e.What)
}

// PanicError wraps a value recovered from a panicking executor.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panicked: %v", e.Value)
}
