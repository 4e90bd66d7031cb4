package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/task"
	"github.com/aristath/scenepilot/internal/wait"
)

// Step is one action with its parameters, using the metadata keys.
type Step map[string]any

func (s Step) action() string {
	if a, ok := s[KeyAction].(string); ok && a != "" {
		return a
	}
	return "tap"
}

func (s Step) str(key string) string {
	v, _ := s[key].(string)
	return v
}

// stepExecutor adapts one kind of step into a task.Executor reading its
// parameters from the execution metadata.
type stepExecutor struct {
	run func(ctx context.Context, ec *task.ExecutionContext, s Step) error
	can func(s Step) bool
}

func (e *stepExecutor) CanExecute(ec *task.ExecutionContext) bool {
	return e.can(Step(ec.Metadata()))
}

func (e *stepExecutor) Execute(ctx context.Context, ec *task.ExecutionContext) task.Result {
	start := time.Now()
	if err := e.run(ctx, ec, Step(ec.Metadata())); err != nil {
		return task.Result{Err: err, Duration: time.Since(start)}
	}
	return task.Result{Success: true, Duration: time.Since(start)}
}

// Tap clicks an element (metadata "element") or a point (metadata "at").
func (k *Kit) Tap() task.Executor {
	return &stepExecutor{
		run: k.tap,
		can: func(s Step) bool { return s[KeyElement] != nil || s[KeyAt] != nil },
	}
}

// Swipe drags between "from" and "to", each an element name or a point.
func (k *Kit) Swipe() task.Executor {
	return &stepExecutor{
		run: k.swipe,
		can: func(s Step) bool { return s[KeyFrom] != nil && s[KeyTo] != nil },
	}
}

// TypeText sends "text", tapping "element" first when one is given.
func (k *Kit) TypeText() task.Executor {
	return &stepExecutor{
		run: k.typeText,
		can: func(s Step) bool {
			_, ok := s[KeyText].(string)
			return ok
		},
	}
}

func (k *Kit) tap(ctx context.Context, ec *task.ExecutionContext, s Step) error {
	target := s[KeyAt]
	if target == nil {
		target = s[KeyElement]
	}
	if target == nil {
		return errors.New("tap: no element or point given")
	}
	at, err := k.locate(ctx, target)
	if err != nil {
		return err
	}

	kind := device.ClickType(s.str(KeyClick))
	if kind == "" {
		kind = device.ClickSingle
	}
	if err := opErr("tap", k.operator.Click(ctx, at, kind)); err != nil {
		return err
	}
	ec.Set(KeyTappedAt, at)
	k.logger.Debug("tapped",
		zap.String("execution_id", ec.ID),
		zap.Stringer("at", at),
		zap.String("click", string(kind)))
	return nil
}

func (k *Kit) swipe(ctx context.Context, ec *task.ExecutionContext, s Step) error {
	if s[KeyFrom] == nil || s[KeyTo] == nil {
		return errors.New("swipe: from and to are required")
	}
	from, err := k.locate(ctx, s[KeyFrom])
	if err != nil {
		return err
	}
	to, err := k.locate(ctx, s[KeyTo])
	if err != nil {
		return err
	}
	d, err := durationFrom(s[KeyDuration])
	if err != nil {
		return fmt.Errorf("swipe: %w", err)
	}
	if d <= 0 {
		d = k.cfg.SwipeDuration
	}
	return opErr("swipe", k.operator.Swipe(ctx, from, to, d))
}

func (k *Kit) typeText(ctx context.Context, ec *task.ExecutionContext, s Step) error {
	text, ok := s[KeyText].(string)
	if !ok {
		return errors.New("type: no text given")
	}
	if s[KeyElement] != nil || s[KeyAt] != nil {
		if err := k.tap(ctx, ec, s); err != nil {
			return err
		}
	}
	return opErr("type", k.operator.TypeText(ctx, text))
}

// Sequence runs the steps listed under "steps" in order. Without a steps
// list the task metadata itself is the single step. After each step it
// optionally waits for "wait_for" and pauses for "delay", checking the
// token in between.
func (k *Kit) Sequence() task.Executor {
	return task.ExecutorFunc(k.sequence)
}

func (k *Kit) sequence(ctx context.Context, ec *task.ExecutionContext) task.Result {
	start := time.Now()
	steps, err := stepsFrom(ec.Metadata())
	if err != nil {
		return task.Result{Err: err, Duration: time.Since(start)}
	}

	for i, s := range steps {
		if err := ec.Checkpoint(ctx); err != nil {
			return task.Result{Err: err, Duration: time.Since(start)}
		}
		if err := k.runStep(ctx, ec, s); err != nil {
			return task.Result{
				Err:      fmt.Errorf("step %d (%s): %w", i+1, s.action(), err),
				Duration: time.Since(start),
				Data:     map[string]any{KeyStepsDone: i},
			}
		}
		ec.SetProgress(float64(i+1) / float64(len(steps)))
	}

	ec.Set(KeyStepsDone, len(steps))
	return task.Result{
		Success:  true,
		Duration: time.Since(start),
		Data:     map[string]any{KeyStepsDone: len(steps)},
	}
}

func (k *Kit) runStep(ctx context.Context, ec *task.ExecutionContext, s Step) error {
	switch a := s.action(); a {
	case "tap":
		if err := k.tap(ctx, ec, s); err != nil {
			return err
		}
	case "swipe":
		if err := k.swipe(ctx, ec, s); err != nil {
			return err
		}
	case "type":
		if err := k.typeText(ctx, ec, s); err != nil {
			return err
		}
	case "wait":
		// Only wait_for and delay apply.
	default:
		return fmt.Errorf("unknown action %q", a)
	}

	if name := s.str(KeyWaitFor); name != "" {
		if k.waiter == nil {
			return fmt.Errorf("wait for %q: no wait coordinator configured", name)
		}
		timeout, err := durationFrom(s[KeyWaitTimeout])
		if err != nil {
			return fmt.Errorf("wait for %q: %w", name, err)
		}
		res := k.waiter.WaitForCondition(ctx, wait.ElementAppears(name).WithTimeout(timeout))
		if !res.Success {
			return res.Err
		}
	}

	delay, err := durationFrom(s[KeyDelay])
	if err != nil {
		return fmt.Errorf("delay: %w", err)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// stepsFrom reads the steps list, or treats md as one step.
func stepsFrom(md map[string]any) ([]Step, error) {
	raw, ok := md[KeySteps]
	if !ok {
		return []Step{Step(md)}, nil
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case []map[string]any:
		for _, m := range v {
			list = append(list, m)
		}
	case []Step:
		return v, nil
	default:
		return nil, fmt.Errorf("steps must be a list, got %T", raw)
	}

	steps := make([]Step, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d must be a mapping, got %T", i+1, item)
		}
		steps = append(steps, Step(m))
	}
	if len(steps) == 0 {
		return nil, errors.New("steps list is empty")
	}
	return steps, nil
}
