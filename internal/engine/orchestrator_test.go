package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/recovery"
	"github.com/aristath/scenepilot/internal/task"
	"github.com/aristath/scenepilot/internal/wait"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Delay = wait.DelayPolicy{Strategy: task.DelayFixed, BaseDelay: time.Millisecond}
	cfg.SceneTimeout = 50 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, sim *device.Simulator, reg *task.Registry, cfg Config, opts Options) *Orchestrator {
	t.Helper()
	waiter := wait.NewCoordinator(sim, nil, wait.Config{CheckInterval: 2 * time.Millisecond}, nil)
	return NewOrchestrator(reg, waiter, cfg, opts)
}

func register(t *testing.T, reg *task.Registry, tt task.TaskType, e task.Executor) {
	t.Helper()
	require.NoError(t, reg.Register(tt, e))
}

func run(o *Orchestrator, cfg task.TaskConfig) task.TerminalResult {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return o.Execute(ctx, "exec-"+cfg.ID, cfg, task.NewToken(cancel))
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	reg := task.NewRegistry()
	register(t, reg, task.TypeCollection, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		return task.Succeeded(map[string]any{"gold": 10})
	}))
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "collect", Type: task.TypeCollection, MaxRetries: 3})
	assert.Equal(t, task.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 10, res.Data["gold"])
	assert.Empty(t, res.Records)
	assert.Zero(t, o.Active())
}

// Executor always fails detection with max_retries=2: exactly three calls
// and the final error is the text of the last failure.
func TestExecute_DetectionFailureExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeCombat, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		n := calls.Add(1)
		return task.Failed(&task.DetectionError{Target: "start_button", Err: fmt.Errorf("miss %d", n)})
	}))
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "fight", Type: task.TypeCombat, MaxRetries: 2})

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, task.OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, `detection of "start_button" failed: miss 3`, res.ErrorText())
	require.Len(t, res.Records, 3)
	for i, rec := range res.Records {
		assert.Equal(t, i, rec.Attempt)
		assert.Equal(t, "detection-failure", rec.Kind)
	}
}

func TestExecute_NeverMoreThanRetriesPlusOne(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			var calls atomic.Int32
			reg := task.NewRegistry()
			register(t, reg, task.TypeDaily, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
				calls.Add(1)
				assert.LessOrEqual(t, ec.RetryCount, n)
				return task.Failed(errors.New("nope"))
			}))
			o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

			res := run(o, task.TaskConfig{ID: "d", Type: task.TypeDaily, MaxRetries: n})
			assert.Equal(t, int32(n+1), calls.Load())
			assert.Equal(t, task.OutcomeFailed, res.Outcome)
		})
	}
}

func TestExecute_ExecutorMissingIsFatal(t *testing.T) {
	var preChecks atomic.Int32
	pre := task.ConditionFunc{Label: "count", Fn: func(context.Context, *task.ExecutionContext) (bool, error) {
		preChecks.Add(1)
		return true, nil
	}}
	o := newTestOrchestrator(t, device.NewSimulator("home"), task.NewRegistry(), testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "m", Type: task.TypeMaintenance, MaxRetries: 5, PreConditions: []task.Condition{pre}})
	assert.Equal(t, task.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, task.ErrExecutorMissing)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), preChecks.Load())
}

func TestExecute_PostConditionOverridesSuccess(t *testing.T) {
	var calls, checks atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeNavigation, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		calls.Add(1)
		return task.Succeeded(nil)
	}))
	post := task.ConditionFunc{Label: "arrived", Fn: func(context.Context, *task.ExecutionContext) (bool, error) {
		return checks.Add(1) >= 3, nil
	}}
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "nav", Type: task.TypeNavigation, MaxRetries: 4, PostConditions: []task.Condition{post}})
	assert.Equal(t, task.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Records, 2)
	assert.Equal(t, "control-flow", res.Records[0].Kind)
	assert.Contains(t, res.Records[0].Error, `post-condition "arrived" not met`)
}

func TestExecute_PreConditionSkipsExecutor(t *testing.T) {
	var calls atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeCustom, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		calls.Add(1)
		return task.Succeeded(nil)
	}))
	sim := device.NewSimulator("home")
	sim.SetActive(false)
	o := newTestOrchestrator(t, sim, reg, testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "c", Type: task.TypeCustom, MaxRetries: 1, PreConditions: []task.Condition{TargetActive(sim)}})
	assert.Equal(t, task.OutcomeFailed, res.Outcome)
	assert.Zero(t, calls.Load())

	var condErr *task.ConditionError
	require.ErrorAs(t, res.Err, &condErr)
	assert.Equal(t, task.PhasePre, condErr.Phase)
}

func TestExecute_RequiredScenes(t *testing.T) {
	reg := task.NewRegistry()
	register(t, reg, task.TypeCombat, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		return task.Succeeded(nil)
	}))
	sim := device.NewSimulator("home")
	o := newTestOrchestrator(t, sim, reg, testConfig(), Options{})

	cfg := task.TaskConfig{ID: "b", Type: task.TypeCombat, RequiredScenes: []string{"battle"}, Timeout: 20 * time.Millisecond}
	res := run(o, cfg)
	assert.Equal(t, task.OutcomeFailed, res.Outcome)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "timeout", res.Records[0].Kind)

	sim.SetScene("battle")
	res = run(o, cfg)
	assert.Equal(t, task.OutcomeSucceeded, res.Outcome)
}

func TestExecute_PanicIsContained(t *testing.T) {
	reg := task.NewRegistry()
	register(t, reg, task.TypeCustom, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		panic("index out of range")
	}))
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	res := run(o, task.TaskConfig{ID: "p", Type: task.TypeCustom, MaxRetries: 1})
	assert.Equal(t, task.OutcomeFailed, res.Outcome)
	var pe *task.PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "unknown", res.Records[0].Kind)
}

func blockingExecutor(started chan<- struct{}) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		close(started)
		<-ctx.Done()
		return task.Failed(ctx.Err())
	})
}

func TestExecute_CancelAndStop(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(*task.Token)
		want    task.Outcome
	}{
		{"cancel", (*task.Token).Cancel, task.OutcomeCancelled},
		{"stop", (*task.Token).Stop, task.OutcomeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			reg := task.NewRegistry()
			register(t, reg, task.TypeCustom, blockingExecutor(started))
			o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tok := task.NewToken(cancel)

			go func() {
				<-started
				tt.trigger(tok)
			}()
			res := o.Execute(ctx, "e1", task.TaskConfig{ID: "x", Type: task.TypeCustom, MaxRetries: 3}, tok)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, 1, res.Attempts)
		})
	}
}

// A tripped breaker delays the next call instead of consuming the attempt,
// so the executor still runs max_retries+1 times and its own error is reported.
func TestExecute_CircuitBreakerHoldsCalls(t *testing.T) {
	var calls atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeCollection, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		return task.Failed(fmt.Errorf("crash %d", calls.Add(1)))
	}))
	cfg := testConfig()
	cfg.Breaker = BreakerConfig{MaxRequests: 1, OpenTimeout: 20 * time.Millisecond, FailureThreshold: 2}
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, cfg, Options{})

	start := time.Now()
	res := run(o, task.TaskConfig{ID: "c", Type: task.TypeCollection, MaxRetries: 3})

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, "crash 4", res.ErrorText())
	assert.NotErrorIs(t, res.Err, task.ErrResourceExhausted)
	// Tripped after the second failure, then held before the third and fourth calls.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Empty(t, o.Breakers().States())
}

// Breakers are per execution: a task that keeps failing with default
// settings does not reject calls made by another task of the same type.
func TestExecute_BreakerDoesNotSpillAcrossTasks(t *testing.T) {
	var brokenCalls, healthyCalls atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeDaily, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		if ec.TaskID == "broken" {
			return task.Failed(fmt.Errorf("broken %d", brokenCalls.Add(1)))
		}
		healthyCalls.Add(1)
		return task.Succeeded(nil)
	}))
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	var wg sync.WaitGroup
	var broken task.TerminalResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		broken = run(o, task.TaskConfig{ID: "broken", Type: task.TypeDaily, MaxRetries: 6})
	}()

	// Give the broken task time to trip its breaker.
	require.Eventually(t, func() bool { return brokenCalls.Load() >= 5 }, 5*time.Second, time.Millisecond)
	healthy := run(o, task.TaskConfig{ID: "healthy", Type: task.TypeDaily, MaxRetries: 1})
	assert.Equal(t, task.OutcomeSucceeded, healthy.Outcome)
	assert.Equal(t, int32(1), healthyCalls.Load())

	wg.Wait()
	assert.Equal(t, task.OutcomeFailed, broken.Outcome)
	assert.Equal(t, int32(7), brokenCalls.Load())
	assert.Equal(t, 7, broken.Attempts)
	assert.Equal(t, "broken 7", broken.ErrorText())
}

type fakeRecoverer struct {
	mu    sync.Mutex
	kinds []recovery.Kind
}

func (f *fakeRecoverer) Recover(ctx context.Context, rec recovery.ErrorRecord) recovery.RecoveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, rec.Kind)
	return recovery.RecoveryResult{Kind: rec.Kind, Recovered: true, Action: "fixed"}
}

type fakeRecorder struct {
	attempts   atomic.Int32
	recoveries atomic.Int32
}

func (f *fakeRecorder) AttemptFailed(task.TaskType, string)  { f.attempts.Add(1) }
func (f *fakeRecorder) RecoveryFinished(string, bool, bool) { f.recoveries.Add(1) }

func TestExecute_RecoveryBetweenAttempts(t *testing.T) {
	var calls atomic.Int32
	reg := task.NewRegistry()
	register(t, reg, task.TypeCombat, task.ExecutorFunc(func(ctx context.Context, ec *task.ExecutionContext) task.Result {
		switch calls.Add(1) {
		case 1:
			return task.Failed(&task.DetectionError{Target: "enemy"})
		case 2:
			return task.Failed(&task.ConditionError{Phase: task.PhaseRun, Condition: "energy"})
		default:
			return task.Succeeded(nil)
		}
	}))
	rec := &fakeRecoverer{}
	metrics := &fakeRecorder{}
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{Recoverer: rec, Recorder: metrics})

	res := run(o, task.TaskConfig{ID: "r", Type: task.TypeCombat, MaxRetries: 3})
	require.Equal(t, task.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, []recovery.Kind{recovery.KindDetection}, rec.kinds)
	assert.Equal(t, int32(2), metrics.attempts.Load())
	assert.Equal(t, int32(1), metrics.recoveries.Load())
	assert.True(t, res.Records[0].Recovered)
	assert.Equal(t, "fixed", res.Records[0].Recovery)
	assert.False(t, res.Records[1].Recovered)
}

func TestExecute_RejectsDuplicateExecutionID(t *testing.T) {
	started := make(chan struct{})
	reg := task.NewRegistry()
	register(t, reg, task.TypeCustom, blockingExecutor(started))
	o := newTestOrchestrator(t, device.NewSimulator("home"), reg, testConfig(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	tok := task.NewToken(cancel)
	done := make(chan task.TerminalResult, 1)
	go func() { done <- o.Execute(ctx, "same", task.TaskConfig{ID: "x", Type: task.TypeCustom}, tok) }()
	<-started

	dup := o.Execute(context.Background(), "same", task.TaskConfig{ID: "x", Type: task.TypeCustom}, nil)
	assert.ErrorIs(t, dup.Err, ErrAlreadyRunning)

	tok.Cancel()
	assert.Equal(t, task.OutcomeCancelled, (<-done).Outcome)
}

func TestBuiltinConditions(t *testing.T) {
	sim := device.NewSimulator("home")
	sim.Show("chest", device.Point{X: 40, Y: 50})
	ctx := context.Background()
	ec := task.NewExecutionContext("e", task.TaskConfig{ID: "t"}, nil)

	ok, err := ElementVisible(sim, "chest", 0.8).Check(ctx, ec)
	require.NoError(t, err)
	assert.True(t, ok)
	pos, _ := ec.Get("chest.position")
	assert.Equal(t, device.Point{X: 40, Y: 50}, pos)

	ok, _ = ElementGone(sim, "chest", 0.8).Check(ctx, ec)
	assert.False(t, ok)

	ok, _ = SceneIs(sim, "home").Check(ctx, ec)
	assert.True(t, ok)

	sim.FailNextDetections(1)
	_, err = SceneIs(sim, "home").Check(ctx, ec)
	var de *task.DetectionError
	assert.ErrorAs(t, err, &de)
}
