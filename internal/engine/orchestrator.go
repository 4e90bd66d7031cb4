// Package engine runs one task execution end to end: conditions, required
// scenes, the registered executor, classification and recovery between
// attempts, and the retry delay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/recovery"
	"github.com/aristath/scenepilot/internal/task"
	"github.com/aristath/scenepilot/internal/wait"
)

// ErrAlreadyRunning is returned when an execution id already has a live context.
var ErrAlreadyRunning = errors.New("execution already running")

// errExecutorFailed stands in for an executor that reported failure without an error.
var errExecutorFailed = errors.New("executor reported failure")

// Recoverer runs recovery plans for a classified failure.
type Recoverer interface {
	Recover(ctx context.Context, rec recovery.ErrorRecord) recovery.RecoveryResult
}

// Recorder receives per-attempt telemetry. The metrics collector implements it.
type Recorder interface {
	AttemptFailed(taskType task.TaskType, kind string)
	RecoveryFinished(kind string, recovered, skipped bool)
}

// Config holds orchestrator defaults.
type Config struct {
	Delay        wait.DelayPolicy `yaml:"delay"`
	Breaker      BreakerConfig    `yaml:"breaker"`
	SceneTimeout time.Duration    `yaml:"scene_timeout"` // Required-scene budget when the task sets no timeout
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Delay:        wait.DefaultDelayPolicy(),
		Breaker:      DefaultBreakerConfig(),
		SceneTimeout: 10 * time.Second,
	}
}

// Orchestrator executes tasks with retries. One Orchestrator is shared by
// every worker in the pool.
type Orchestrator struct {
	registry  *task.Registry
	waiter    *wait.Coordinator
	recoverer Recoverer
	breakers  *CircuitBreakerRegistry
	cfg       Config
	bus       *events.Bus
	recorder  Recorder
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	Recoverer Recoverer
	Bus       *events.Bus
	Recorder  Recorder
	Logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator around an explicit executor registry.
func NewOrchestrator(registry *task.Registry, waiter *wait.Coordinator, cfg Config, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SceneTimeout <= 0 {
		cfg.SceneTimeout = DefaultConfig().SceneTimeout
	}
	if cfg.Delay.Strategy == "" {
		cfg.Delay = DefaultConfig().Delay
	}
	logger = logger.With(zap.String("component", "orchestrator"))

	return &Orchestrator{
		registry:  registry,
		waiter:    waiter,
		recoverer: opts.Recoverer,
		breakers:  NewCircuitBreakerRegistry(cfg.Breaker, logger),
		cfg:       cfg,
		bus:       opts.Bus,
		recorder:  opts.Recorder,
		logger:    logger,
		active:    make(map[string]struct{}),
	}
}

// Breakers exposes the circuit breaker registry for status reporting.
func (o *Orchestrator) Breakers() *CircuitBreakerRegistry {
	return o.breakers
}

// Execute runs cfg to a terminal result. It never panics and never returns
// an attempt-level error directly; everything is folded into the result.
func (o *Orchestrator) Execute(ctx context.Context, executionID string, cfg task.TaskConfig, tok *task.Token) task.TerminalResult {
	start := time.Now()
	result := task.TerminalResult{TaskID: cfg.ID, ExecutionID: executionID}

	if !o.claim(executionID) {
		result.Outcome = task.OutcomeFailed
		result.Err = fmt.Errorf("execution %s: %w", executionID, ErrAlreadyRunning)
		return result
	}
	defer o.release(executionID)
	defer o.breakers.Release(executionID)

	ec := task.NewExecutionContext(executionID, cfg, tok)
	policy := o.cfg.Delay.Merge(cfg.Retry)
	log := o.logger.With(
		zap.String("execution_id", executionID),
		zap.String("task_id", cfg.ID),
		zap.String("task_type", string(cfg.Type)))

	finish := func(outcome task.Outcome, err error) task.TerminalResult {
		result.Outcome = outcome
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		ec.RetryCount = attempt
		if err := tok.Checkpoint(ctx); err != nil {
			return finish(interruptOutcome(tok, err), orLast(err, lastErr))
		}

		result.Attempts++
		attemptStart := time.Now()
		data, fatal, err := o.attempt(ctx, ec, cfg)
		if err == nil {
			result.Data = data
			log.Info("execution succeeded", zap.Int("attempts", result.Attempts))
			return finish(task.OutcomeSucceeded, nil)
		}
		if interrupted(ctx, tok, err) {
			return finish(interruptOutcome(tok, err), orLast(err, lastErr))
		}

		lastErr = err
		ec.LastError = err
		if fatal {
			log.Error("execution failed permanently", zap.Error(err))
			return finish(task.OutcomeFailed, err)
		}

		rec := recovery.NewErrorRecord(cfg.ID, executionID, attempt, err)
		record := task.AttemptRecord{
			Attempt:  attempt,
			Kind:     rec.Kind.String(),
			Error:    err.Error(),
			Duration: time.Since(attemptStart),
		}
		if o.recorder != nil {
			o.recorder.AttemptFailed(cfg.Type, rec.Kind.String())
		}

		if o.recoverer != nil && rec.Kind != recovery.KindControlFlow {
			rr := o.recoverer.Recover(ctx, rec)
			record.Recovered = rr.Recovered
			record.Recovery = rr.Action
			if o.recorder != nil {
				o.recorder.RecoveryFinished(rec.Kind.String(), rr.Recovered, rr.Skipped)
			}
		}
		result.Records = append(result.Records, record)

		log.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.String("kind", record.Kind),
			zap.Bool("recovered", record.Recovered),
			zap.Error(err))
		o.bus.Publish(events.TaskAttemptEvent{
			ID:        executionID,
			Attempt:   attempt,
			Kind:      record.Kind,
			Err:       record.Error,
			Recovered: record.Recovered,
			Timestamp: time.Now(),
		})

		if attempt == cfg.MaxRetries {
			break
		}
		if o.waiter != nil {
			if _, err := o.waiter.SmartWait(ctx, policy, attempt); err != nil {
				return finish(interruptOutcome(tok, err), lastErr)
			}
		}
	}

	log.Error("execution failed after retries",
		zap.Int("attempts", result.Attempts),
		zap.Error(lastErr))
	return finish(task.OutcomeFailed, lastErr)
}

// attempt performs steps one to five of a single attempt. fatal is set
// when retrying cannot help.
func (o *Orchestrator) attempt(ctx context.Context, ec *task.ExecutionContext, cfg task.TaskConfig) (map[string]any, bool, error) {
	if err := o.checkConditions(ctx, ec, task.PhasePre, cfg.PreConditions); err != nil {
		return nil, false, err
	}

	for _, scene := range cfg.RequiredScenes {
		if err := ec.Checkpoint(ctx); err != nil {
			return nil, false, err
		}
		if err := o.awaitScene(ctx, scene, cfg.Timeout); err != nil {
			return nil, false, err
		}
	}

	exec, ok := o.registry.Lookup(cfg.Type)
	if !ok {
		return nil, true, fmt.Errorf("task type %q: %w", cfg.Type, task.ErrExecutorMissing)
	}
	if !exec.CanExecute(ec) {
		return nil, false, &task.ConditionError{Phase: task.PhaseRun, Condition: "can_execute"}
	}
	if err := ec.Checkpoint(ctx); err != nil {
		return nil, false, err
	}

	res, err := o.run(ctx, exec, ec)
	if err != nil {
		return nil, false, err
	}

	if err := o.checkConditions(ctx, ec, task.PhasePost, cfg.PostConditions); err != nil {
		return nil, false, err
	}
	return res.Data, false, nil
}

// run invokes the executor through the execution's circuit breaker. While
// the breaker is open the call waits for it to go half-open, so every
// attempt reaches the executor and its error is the one reported.
func (o *Orchestrator) run(ctx context.Context, exec task.Executor, ec *task.ExecutionContext) (task.Result, error) {
	cb := o.breakers.Get(ec.ID, ec.TaskType)
	for {
		var res task.Result
		_, err := cb.Execute(func() (interface{}, error) {
			res = invoke(ctx, exec, ec)
			if res.Success {
				return nil, nil
			}
			if res.Err == nil {
				return nil, errExecutorFailed
			}
			return nil, res.Err
		})
		if !rejected(err) {
			return res, err
		}

		o.logger.Debug("circuit open, holding executor call",
			zap.String("execution_id", ec.ID),
			zap.Duration("open_timeout", o.breakers.OpenTimeout()))
		timer := time.NewTimer(o.breakers.OpenTimeout())
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
		if err := ec.Checkpoint(ctx); err != nil {
			return res, err
		}
	}
}

// invoke calls the executor, turning a panic into a failed result so one
// broken executor cannot take down the worker.
func invoke(ctx context.Context, exec task.Executor, ec *task.ExecutionContext) (res task.Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = task.Failed(&task.PanicError{Value: p})
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()
	return exec.Execute(ctx, ec)
}

func (o *Orchestrator) checkConditions(ctx context.Context, ec *task.ExecutionContext, phase task.Phase, conds []task.Condition) error {
	for _, c := range conds {
		if err := ec.Checkpoint(ctx); err != nil {
			return err
		}
		ok, err := checkCondition(ctx, c, ec)
		if err != nil {
			return &task.ConditionError{Phase: phase, Condition: c.Name(), Err: err}
		}
		if !ok {
			return &task.ConditionError{Phase: phase, Condition: c.Name()}
		}
	}
	return nil
}

func checkCondition(ctx context.Context, c task.Condition, ec *task.ExecutionContext) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, &task.PanicError{Value: p}
		}
	}()
	return c.Check(ctx, ec)
}

func (o *Orchestrator) awaitScene(ctx context.Context, scene string, timeout time.Duration) error {
	if o.waiter == nil {
		return fmt.Errorf("required scene %q: no wait coordinator configured", scene)
	}
	if timeout <= 0 {
		timeout = o.cfg.SceneTimeout
	}
	res := o.waiter.WaitForCondition(ctx, wait.SceneIs(scene).WithTimeout(timeout))
	if res.Success {
		return nil
	}
	if res.Err == nil {
		return &task.WaitTimeoutError{What: "scene " + scene, After: timeout}
	}
	return res.Err
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[id]; busy {
		return false
	}
	o.active[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

// Active returns how many executions currently hold a live context.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// interrupted reports whether err is the result of a cancel, a stop or
// the parent context ending rather than an attempt failure.
func interrupted(ctx context.Context, tok *task.Token, err error) bool {
	if errors.Is(err, task.ErrCancelled) || errors.Is(err, task.ErrStopped) {
		return true
	}
	if tok != nil && (tok.Cancelled() || tok.Stopped()) {
		return true
	}
	return ctx.Err() != nil
}

func interruptOutcome(tok *task.Token, err error) task.Outcome {
	if errors.Is(err, task.ErrStopped) || (tok != nil && tok.Stopped()) {
		return task.OutcomeTimeout
	}
	return task.OutcomeCancelled
}

// orLast keeps the last attempt error when one exists, so a cancelled
// execution still reports what was going wrong.
func orLast(err, last error) error {
	if last != nil {
		return fmt.Errorf("%w (last attempt error: %v)", err, last)
	}
	return err
}
