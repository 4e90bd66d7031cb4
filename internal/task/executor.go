package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Condition is a pre- or post-condition evaluated against the execution context.
type Condition interface {
	Name() string
	Check(ctx context.Context, ec *ExecutionContext) (bool, error)
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc struct {
	Label string
	Fn    func(ctx context.Context, ec *ExecutionContext) (bool, error)
}

func (c ConditionFunc) Name() string { return c.Label }

func (c ConditionFunc) Check(ctx context.Context, ec *ExecutionContext) (bool, error) {
	return c.Fn(ctx, ec)
}

// Result is what an executor reports for one attempt.
type Result struct {
	Success  bool
	Duration time.Duration
	Err      error
	Data     map[string]any
}

// Succeeded builds a successful result.
func Succeeded(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Failed builds a failed result carrying err.
func Failed(err error) Result {
	return Result{Success: false, Err: err}
}

// Executor runs the body of a task type.
type Executor interface {
	// CanExecute reports whether the executor accepts this context.
	CanExecute(ec *ExecutionContext) bool

	// Execute performs one attempt.
	Execute(ctx context.Context, ec *ExecutionContext) Result
}

// ExecutorFunc adapts a function into an Executor that accepts every context.
type ExecutorFunc func(ctx context.Context, ec *ExecutionContext) Result

func (f ExecutorFunc) CanExecute(*ExecutionContext) bool { return true }

func (f ExecutorFunc) Execute(ctx context.Context, ec *ExecutionContext) Result {
	return f(ctx, ec)
}

// Registry maps task types to executors. It is built before submission and
// handed to the orchestrator explicitly.
type Registry struct {
	mu        sync.RWMutex
	executors map[TaskType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[TaskType]Executor)}
}

// Register binds an executor to a task type. Unknown types and duplicate
// registrations are rejected.
func (r *Registry) Register(t TaskType, e Executor) error {
	if !t.Valid() {
		return fmt.Errorf("register executor: unknown task type %q", t)
	}
	if e == nil {
		return fmt.Errorf("register executor for %q: nil executor", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[t]; exists {
		return fmt.Errorf("register executor: type %q already registered", t)
	}
	r.executors[t] = e
	return nil
}

// Lookup returns the executor for t.
func (r *Registry) Lookup(t TaskType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

// Types returns the registered task types.
func (r *Registry) Types() []TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]TaskType, 0, len(r.executors))
	for _, t := range TaskTypes() {
		if _, ok := r.executors[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Outcome is the terminal classification of an execution.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeCancelled
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AttemptRecord describes one failed attempt and what recovery did about it.
type AttemptRecord struct {
	Attempt   int
	Kind      string // Error classification
	Error     string
	Recovery  string // Action that recovered, "" if none
	Recovered bool
	Duration  time.Duration
}

// TerminalResult is the final report of an execution.
type TerminalResult struct {
	TaskID      string
	ExecutionID string
	Outcome     Outcome
	Attempts    int // Attempts started, including those that failed before the executor ran
	Elapsed     time.Duration
	Err         error
	Data        map[string]any
	Records     []AttemptRecord
}

// ErrorText returns the final error message, or "".
func (r TerminalResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
