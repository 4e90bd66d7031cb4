// Package wait blocks task progress until a declared condition holds on
// the monitored target, and computes the delay between retry attempts.
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/task"
)

// Config holds the defaults applied to conditions that leave fields unset.
type Config struct {
	Timeout       time.Duration `yaml:"timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Threshold     float64       `yaml:"threshold"`
	Tolerance     float64       `yaml:"tolerance"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		CheckInterval: 100 * time.Millisecond,
		Threshold:     0.8,
		Tolerance:     5,
	}
}

// SceneSource supplies debounced scene readings. The scene observer
// implements it; without one the coordinator asks the detector directly.
type SceneSource interface {
	Label() string
	StableFor() time.Duration
}

// Result reports the outcome of one wait.
type Result struct {
	Success  bool
	Elapsed  time.Duration
	Matched  string        // Element name or scene label that satisfied the wait
	Position *device.Point // Set for element waits
	Polls    int
	Err      error // Timeout, context error or invalid condition
}

// Coordinator runs waits against a detector.
type Coordinator struct {
	detector device.Detector
	scenes   SceneSource
	cfg      Config
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator. scenes may be nil.
func NewCoordinator(detector device.Detector, scenes SceneSource, cfg Config, logger *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		detector: detector,
		scenes:   scenes,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "wait_coordinator")),
	}
}

// Config returns the effective defaults.
func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) withDefaults(cond Condition) Condition {
	if cond.Timeout <= 0 {
		cond.Timeout = c.cfg.Timeout
	}
	if cond.CheckInterval <= 0 {
		cond.CheckInterval = c.cfg.CheckInterval
	}
	if cond.Threshold <= 0 {
		cond.Threshold = c.cfg.Threshold
	}
	if cond.Tolerance <= 0 {
		cond.Tolerance = c.cfg.Tolerance
	}
	return cond
}

// WaitForCondition polls until cond holds, its timeout expires or ctx is
// done. Errors from individual polls are logged and the poll is retried.
func (c *Coordinator) WaitForCondition(ctx context.Context, cond Condition) Result {
	start := time.Now()
	if err := cond.validate(); err != nil {
		return Result{Err: err}
	}
	cond = c.withDefaults(cond)
	check := c.probe(cond)

	deadline := time.NewTimer(cond.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(cond.CheckInterval)
	defer ticker.Stop()

	var (
		polls   int
		lastErr error
	)
	for {
		polls++
		o, err := pollOnce(ctx, check, time.Now())
		switch {
		case err != nil:
			if ctx.Err() == nil {
				lastErr = err
				c.logger.Debug("wait poll failed",
					zap.String("condition", cond.String()),
					zap.Error(err))
			}
		case o.done:
			return Result{
				Success:  true,
				Elapsed:  time.Since(start),
				Matched:  o.matched,
				Position: o.position,
				Polls:    polls,
			}
		}

		select {
		case <-ctx.Done():
			return Result{Elapsed: time.Since(start), Polls: polls, Err: ctx.Err()}
		case <-deadline.C:
			timeoutErr := &task.WaitTimeoutError{What: cond.String(), After: cond.Timeout}
			if lastErr != nil {
				c.logger.Debug("wait timed out after poll errors",
					zap.String("condition", cond.String()),
					zap.NamedError("last_error", lastErr))
			}
			return Result{Elapsed: time.Since(start), Polls: polls, Err: timeoutErr}
		case <-ticker.C:
		}
	}
}

// errWon stops the sibling waits once one condition is satisfied.
var errWon = errors.New("wait satisfied")

// WaitForAny races the conditions and returns the index and result of the
// first one to succeed; the others are cancelled. If none succeeds the
// index is -1 and the result carries the first failure.
func (c *Coordinator) WaitForAny(ctx context.Context, conds ...Condition) (int, Result) {
	if len(conds) == 0 {
		return -1, Result{Err: errors.New("wait for any: no conditions")}
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var (
		once     sync.Once
		winner   = -1
		won      Result
		failOnce sync.Once
		failed   Result
	)
	for i, cond := range conds {
		g.Go(func() error {
			res := c.WaitForCondition(gctx, cond)
			if res.Success {
				once.Do(func() {
					winner = i
					won = res
				})
				return errWon
			}
			failOnce.Do(func() { failed = res })
			return nil
		})
	}
	_ = g.Wait()

	if winner >= 0 {
		won.Elapsed = time.Since(start)
		return winner, won
	}
	failed.Elapsed = time.Since(start)
	return -1, failed
}

// outcome is what one probe observed.
type outcome struct {
	done     bool
	matched  string
	position *device.Point
}

type probeFunc func(ctx context.Context, now time.Time) (outcome, error)

// pollOnce runs one poll, turning a panic in the detector or a predicate
// into a poll error.
func pollOnce(ctx context.Context, check probeFunc, now time.Time) (o outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			o, err = outcome{}, fmt.Errorf("wait poll panicked: %v", p)
		}
	}()
	return check(ctx, now)
}

func (c *Coordinator) probe(cond Condition) probeFunc {
	switch cond.Kind {
	case KindElementAppear:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			m, err := c.detector.FindElement(ctx, cond.Target, cond.Threshold)
			if err != nil || m == nil {
				return outcome{}, err
			}
			pos := m.Position
			return outcome{done: true, matched: cond.Target, position: &pos}, nil
		}

	case KindElementDisappear:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			m, err := c.detector.FindElement(ctx, cond.Target, cond.Threshold)
			if err != nil {
				return outcome{}, err
			}
			return outcome{done: m == nil, matched: cond.Target}, nil
		}

	case KindSceneChange:
		var (
			initial string
			seen    bool
		)
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			label, err := c.sceneLabel(ctx)
			if err != nil {
				return outcome{}, err
			}
			if !seen {
				initial, seen = label, true
				return outcome{}, nil
			}
			return outcome{done: label != initial, matched: label}, nil
		}

	case KindSceneIs:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			label, err := c.sceneLabel(ctx)
			if err != nil {
				return outcome{}, err
			}
			return outcome{done: label == cond.Target, matched: label}, nil
		}

	case KindSceneStable:
		if c.scenes != nil {
			return func(ctx context.Context, _ time.Time) (outcome, error) {
				return outcome{done: c.scenes.StableFor() >= cond.StableDuration, matched: c.scenes.Label()}, nil
			}
		}
		var (
			anchor string
			since  time.Time
		)
		return func(ctx context.Context, now time.Time) (outcome, error) {
			label, err := c.detector.DetectScene(ctx)
			if err != nil {
				return outcome{}, err
			}
			if label != anchor || since.IsZero() {
				anchor, since = label, now
			}
			return outcome{done: now.Sub(since) >= cond.StableDuration, matched: label}, nil
		}

	case KindElementStable:
		var (
			anchor *device.Point
			since  time.Time
		)
		return func(ctx context.Context, now time.Time) (outcome, error) {
			m, err := c.detector.FindElement(ctx, cond.Target, cond.Threshold)
			if err != nil {
				return outcome{}, err
			}
			if m == nil {
				anchor = nil
				return outcome{}, nil
			}
			if anchor == nil || anchor.Distance(m.Position) > cond.Tolerance {
				pos := m.Position
				anchor, since = &pos, now
				return outcome{}, nil
			}
			if now.Sub(since) < cond.StableDuration {
				return outcome{}, nil
			}
			pos := *anchor
			return outcome{done: true, matched: cond.Target, position: &pos}, nil
		}

	case KindAllOf:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			var first *device.Point
			for _, name := range cond.Targets {
				m, err := c.detector.FindElement(ctx, name, cond.Threshold)
				if err != nil || m == nil {
					return outcome{}, err
				}
				if first == nil {
					pos := m.Position
					first = &pos
				}
			}
			return outcome{done: true, matched: strings.Join(cond.Targets, ","), position: first}, nil
		}

	case KindAnyOf:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			var firstErr error
			for _, name := range cond.Targets {
				m, err := c.detector.FindElement(ctx, name, cond.Threshold)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if m != nil {
					pos := m.Position
					return outcome{done: true, matched: name, position: &pos}, nil
				}
			}
			return outcome{}, firstErr
		}

	default:
		return func(ctx context.Context, _ time.Time) (outcome, error) {
			ok, err := cond.Predicate(ctx)
			if err != nil {
				return outcome{}, err
			}
			return outcome{done: ok, matched: cond.Label}, nil
		}
	}
}

func (c *Coordinator) sceneLabel(ctx context.Context) (string, error) {
	if c.scenes != nil {
		return c.scenes.Label(), nil
	}
	return c.detector.DetectScene(ctx)
}

// CurrentScene returns the best available scene label, or unknown.
func (c *Coordinator) CurrentScene(ctx context.Context) string {
	label, err := c.sceneLabel(ctx)
	if err != nil || label == "" {
		return device.SceneUnknown
	}
	return label
}
