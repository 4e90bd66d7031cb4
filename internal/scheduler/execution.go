package scheduler

import (
	"sort"
	"time"

	"github.com/aristath/scenepilot/internal/task"
)

// State is the lifecycle state of a TaskExecution.
type State int

const (
	StateQueued    State = iota // Waiting in the queue
	StateRunning                // Owned by a worker
	StatePaused                 // Owned by a worker, holding at its next checkpoint
	StateCompleted              // Finished successfully
	StateFailed                 // Retries exhausted or a dependency failed
	StateCancelled              // Cancelled before or during execution
	StateTimeout                // Exceeded the wall-clock budget
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for st := StateQueued; st <= StateTimeout; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// stateFromOutcome maps an engine outcome to the terminal state.
func stateFromOutcome(o task.Outcome) State {
	switch o {
	case task.OutcomeSucceeded:
		return StateCompleted
	case task.OutcomeCancelled:
		return StateCancelled
	case task.OutcomeTimeout:
		return StateTimeout
	default:
		return StateFailed
	}
}

// TaskExecution is the queue and worker record of one submitted task.
// Values returned by the pool are snapshots.
type TaskExecution struct {
	ID           string
	TaskID       string
	Name         string
	Type         task.TaskType
	Priority     task.Priority
	State        State
	SubmittedAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	WorkerID     int // -1 when not assigned
	Progress     float64
	Dependencies []string
	Resources    []string
	Requeues     int
	Attempts     int
	Error        string
	Records      []task.AttemptRecord
}

// Duration returns run time so far, or the total run time once finished.
func (e TaskExecution) Duration() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	if e.FinishedAt.IsZero() {
		return time.Since(e.StartedAt)
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

func (e TaskExecution) clone() TaskExecution {
	cp := e
	if e.Dependencies != nil {
		cp.Dependencies = append([]string(nil), e.Dependencies...)
	}
	if e.Resources != nil {
		cp.Resources = append([]string(nil), e.Resources...)
	}
	if e.Records != nil {
		cp.Records = append([]task.AttemptRecord(nil), e.Records...)
	}
	return cp
}

// WorkerInfo describes one worker slot.
type WorkerInfo struct {
	ID            int
	Busy          bool
	CurrentTask   string // Execution ID, "" when idle
	Completed     int
	ExecutionTime time.Duration // Cumulative
}

// execution is the pool's mutable record behind a TaskExecution.
type execution struct {
	TaskExecution
	cfg      task.TaskConfig
	token    *task.Token
	waiting  map[string]struct{} // Dependencies not yet Completed
	timedOut bool
}

func (e *execution) snapshot() TaskExecution {
	s := e.clone()
	if e.token != nil && !s.State.Terminal() {
		s.Progress = e.token.Progress()
	}
	return s
}

func (e *execution) waitingOn() []string {
	ids := make([]string, 0, len(e.waiting))
	for id := range e.waiting {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
