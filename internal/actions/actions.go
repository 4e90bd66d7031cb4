// Package actions provides the built-in executors that drive the target:
// tap, swipe, text entry and ordered sequences of those. Parameters come
// from task metadata so plan files and workflow steps can describe them.
package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/task"
	"github.com/aristath/scenepilot/internal/wait"
)

// Metadata keys read by the executors.
const (
	KeyAction      = "action"       // tap, swipe, type, wait
	KeyElement     = "element"      // Element to locate
	KeyAt          = "at"           // Explicit point {x, y}
	KeyClick       = "click"        // single, double, long
	KeyFrom        = "from"         // Swipe start: element name or point
	KeyTo          = "to"           // Swipe end: element name or point
	KeyDuration    = "duration"     // Swipe duration
	KeyText        = "text"         // Text to type
	KeySteps       = "steps"        // Sequence steps
	KeyWaitFor     = "wait_for"     // Element to wait for after a step
	KeyWaitTimeout = "wait_timeout" // Bound for wait_for
	KeyDelay       = "delay"        // Pause after a step

	// Written back by executors.
	KeyTappedAt  = "tapped_at"
	KeyStepsDone = "steps_done"
)

// Config holds executor defaults.
type Config struct {
	Threshold     float64
	SwipeDuration time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.8,
		SwipeDuration: 300 * time.Millisecond,
	}
}

// Kit bundles the collaborators shared by the executors.
type Kit struct {
	detector device.Detector
	operator device.Operator
	waiter   *wait.Coordinator // Optional; required for wait_for steps
	cfg      Config
	logger   *zap.Logger
}

// NewKit creates a kit. waiter may be nil.
func NewKit(detector device.Detector, operator device.Operator, waiter *wait.Coordinator, cfg Config, logger *zap.Logger) *Kit {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SwipeDuration <= 0 {
		cfg.SwipeDuration = def.SwipeDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kit{
		detector: detector,
		operator: operator,
		waiter:   waiter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "actions")),
	}
}

// Register binds the sequence executor to every task type. A task without
// steps runs as a single step described by its own metadata.
func (k *Kit) Register(reg *task.Registry) error {
	seq := k.Sequence()
	for _, t := range task.TaskTypes() {
		if err := reg.Register(t, seq); err != nil {
			return err
		}
	}
	return nil
}

// locate resolves a target that is either an element name or a point.
func (k *Kit) locate(ctx context.Context, v any) (device.Point, error) {
	if p, ok := pointFrom(v); ok {
		return p, nil
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return device.Point{}, fmt.Errorf("target must be an element name or {x, y}, got %T", v)
	}
	m, err := k.detector.FindElement(ctx, name, k.cfg.Threshold)
	if err != nil {
		return device.Point{}, &task.DetectionError{Target: name, Err: err}
	}
	if m == nil {
		return device.Point{}, &task.DetectionError{Target: name}
	}
	return m.Position, nil
}

func opErr(op string, r device.OpResult) error {
	if r.Success {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%s: %w", op, r.Err)
	}
	return fmt.Errorf("%s: operation failed", op)
}

// pointFrom accepts a device.Point or a decoded {x, y} map.
func pointFrom(v any) (device.Point, bool) {
	switch p := v.(type) {
	case device.Point:
		return p, true
	case *device.Point:
		if p == nil {
			return device.Point{}, false
		}
		return *p, true
	case map[string]any:
		x, okX := intFrom(p["x"])
		y, okY := intFrom(p["y"])
		if !okX || !okY {
			return device.Point{}, false
		}
		return device.Point{X: x, Y: y}, true
	}
	return device.Point{}, false
}

func intFrom(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// durationFrom accepts a time.Duration, a duration string or a number of
// milliseconds.
func durationFrom(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	default:
		if ms, ok := intFrom(v); ok {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}
	return 0, fmt.Errorf("invalid duration %v (%T)", v, v)
}
