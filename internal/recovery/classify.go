// Package recovery classifies attempt failures and runs bounded lists of
// remedial actions against the target before the next retry.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/scenepilot/internal/task"
)

// Kind is the classification of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindControlFlow
	KindDetection
	KindTimeout
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindControlFlow:
		return "control-flow"
	case KindDetection:
		return "detection-failure"
	case KindTimeout:
		return "timeout"
	case KindResource:
		return "resource-exhaustion"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds lists every classification.
func Kinds() []Kind {
	return []Kind{KindUnknown, KindControlFlow, KindDetection, KindTimeout, KindResource}
}

// Classify maps an attempt error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var (
		condErr    *task.ConditionError
		detectErr  *task.DetectionError
		timeoutErr *task.WaitTimeoutError
	)
	switch {
	case errors.As(err, &condErr):
		return KindControlFlow
	case errors.As(err, &detectErr):
		return KindDetection
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, task.ErrResourceExhausted):
		return KindResource
	default:
		return KindUnknown
	}
}

// ErrorRecord is one classified failure.
type ErrorRecord struct {
	Kind        Kind
	TaskID      string
	ExecutionID string
	Attempt     int
	Err         error
	At          time.Time
}

// NewErrorRecord classifies err and stamps it.
func NewErrorRecord(taskID, executionID string, attempt int, err error) ErrorRecord {
	return ErrorRecord{
		Kind:        Classify(err),
		TaskID:      taskID,
		ExecutionID: executionID,
		Attempt:     attempt,
		Err:         err,
		At:          time.Now(),
	}
}
