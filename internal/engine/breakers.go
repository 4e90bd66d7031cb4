package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/task"
)

// BreakerConfig configures the per execution circuit breakers.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`      // Trial calls allowed while half-open
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // Pause before the next trial call
	FailureThreshold uint32        `yaml:"failure_threshold"` // Consecutive failures that trip it
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		OpenTimeout:      time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreakerRegistry holds one circuit breaker per live execution. A
// tripped breaker holds the next executor call until it goes half-open, so a
// repeatedly failing executor backs off from the target. Breakers are never
// shared, so one execution's failures cannot reject another's calls.
type CircuitBreakerRegistry struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(cfg BreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker of an execution, creating it on first use.
func (r *CircuitBreakerRegistry) Get(executionID string, t task.TaskType) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[executionID]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        executionID,
		MaxRequests: r.cfg.MaxRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("execution_id", name),
				zap.String("task_type", string(t)),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the executor's health.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, task.ErrCancelled) || errors.Is(err, task.ErrStopped) {
				return true
			}
			return false
		},
	})

	r.breakers[executionID] = cb
	return cb
}

// Release drops the breaker of a finished execution.
func (r *CircuitBreakerRegistry) Release(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, executionID)
}

// States returns the current state name of every live breaker by execution ID.
func (r *CircuitBreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.State().String()
	}
	return out
}

// OpenTimeout returns how long a tripped breaker rejects calls.
func (r *CircuitBreakerRegistry) OpenTimeout() time.Duration {
	return r.cfg.OpenTimeout
}

// rejected reports whether err is a breaker refusing the call rather than
// the executor failing.
func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
