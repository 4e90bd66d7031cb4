package task

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// pausePollInterval bounds how long a paused checkpoint sleeps between checks.
const pausePollInterval = 50 * time.Millisecond

// Token carries the cooperative control flags for one execution.
// Nothing is preempted: the running code observes the flags at its next
// Checkpoint, so a cancel takes effect after at least one loop iteration.
type Token struct {
	cancelled atomic.Bool
	stopped   atomic.Bool // raised by the timeout sweep
	paused    atomic.Bool
	progress  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewToken creates a token. cancel, if non-nil, is invoked on Cancel and
// Stop so that blocked waits observe ctx.Done() promptly.
func NewToken(cancel context.CancelFunc) *Token {
	return &Token{cancel: cancel}
}

// Cancel requests cancellation.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
	t.paused.Store(false)
	t.fire()
}

// Stop requests termination because the execution overran its wall-clock budget.
func (t *Token) Stop() {
	t.stopped.Store(true)
	t.paused.Store(false)
	t.fire()
}

func (t *Token) fire() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause asks the execution to hold at its next checkpoint.
func (t *Token) Pause() { t.paused.Store(true) }

// Resume releases a paused execution.
func (t *Token) Resume() { t.paused.Store(false) }

// Cancelled reports whether Cancel was called.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Stopped reports whether Stop was called.
func (t *Token) Stopped() bool { return t.stopped.Load() }

// Paused reports whether the execution is asked to hold.
func (t *Token) Paused() bool { return t.paused.Load() }

// Checkpoint is called between internal steps. It blocks while paused and
// returns ErrCancelled or ErrStopped once either flag is raised.
func (t *Token) Checkpoint(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	for {
		if t.cancelled.Load() {
			return ErrCancelled
		}
		if t.stopped.Load() {
			return ErrStopped
		}
		if !t.paused.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			if t.cancelled.Load() {
				return ErrCancelled
			}
			if t.stopped.Load() {
				return ErrStopped
			}
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
}

// SetProgress records a completion fraction clamped to [0, 1].
func (t *Token) SetProgress(f float64) {
	if t == nil {
		return
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	t.progress.Store(math.Float64bits(f))
}

// Progress returns the last fraction reported with SetProgress.
func (t *Token) Progress() float64 {
	if t == nil {
		return 0
	}
	return math.Float64frombits(t.progress.Load())
}
