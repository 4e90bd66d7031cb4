package wait

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/task"
)

// DelayPolicy configures the inter-attempt delay.
type DelayPolicy struct {
	Strategy      task.DelayStrategy       `yaml:"strategy"`
	BaseDelay     time.Duration            `yaml:"base_delay"`
	MaxDelay      time.Duration            `yaml:"max_delay"`
	SceneDelays   map[string]time.Duration `yaml:"scene_delays"`   // Adaptive table, BaseDelay for unlisted scenes
	StableFor     time.Duration            `yaml:"stable_for"`     // Scene-based minimum stability
	StableTimeout time.Duration            `yaml:"stable_timeout"` // Scene-based upper bound
}

// DefaultDelayPolicy returns the engine-wide retry delay defaults.
func DefaultDelayPolicy() DelayPolicy {
	return DelayPolicy{
		Strategy:  task.DelayExponential,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		SceneDelays: map[string]time.Duration{
			"loading": 2 * time.Second,
			"battle":  1500 * time.Millisecond,
		},
		StableFor:     500 * time.Millisecond,
		StableTimeout: 5 * time.Second,
	}
}

// Merge overlays the non-zero fields of a task's retry policy.
func (p DelayPolicy) Merge(rp task.RetryPolicy) DelayPolicy {
	if rp.Strategy != "" {
		p.Strategy = rp.Strategy
	}
	if rp.BaseDelay > 0 {
		p.BaseDelay = rp.BaseDelay
	}
	if rp.MaxDelay > 0 {
		p.MaxDelay = rp.MaxDelay
	}
	return p
}

// ExponentialDelay returns base*2^attempt capped at max.
func ExponentialDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	if max <= 0 {
		b.MaxInterval = base << 20
	}
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Delay returns the sleep for attempt under a time-based strategy. The
// scene-based strategy blocks on observed stability instead and reports 0.
func (c *Coordinator) Delay(ctx context.Context, p DelayPolicy, attempt int) time.Duration {
	switch p.Strategy {
	case task.DelayFixed:
		return p.BaseDelay
	case task.DelayAdaptive:
		if d, ok := p.SceneDelays[c.CurrentScene(ctx)]; ok {
			return d
		}
		return p.BaseDelay
	case task.DelaySceneBased:
		return 0
	default:
		return ExponentialDelay(p.BaseDelay, p.MaxDelay, attempt)
	}
}

// SmartWait blocks for the delay chosen by p and returns how long it
// waited. Only context cancellation is reported as an error; a scene that
// never settles simply ends the wait at StableTimeout.
func (c *Coordinator) SmartWait(ctx context.Context, p DelayPolicy, attempt int) (time.Duration, error) {
	start := time.Now()

	if p.Strategy == task.DelaySceneBased {
		cond := SceneStable(p.StableFor).WithTimeout(p.StableTimeout)
		res := c.WaitForCondition(ctx, cond)
		if res.Err != nil && ctx.Err() != nil {
			return time.Since(start), ctx.Err()
		}
		var timeout *task.WaitTimeoutError
		if res.Err != nil && !errors.As(res.Err, &timeout) {
			c.logger.Debug("scene stability wait failed", zap.Error(res.Err))
		}
		return time.Since(start), nil
	}

	d := c.Delay(ctx, p, attempt)
	if d <= 0 {
		return 0, ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return time.Since(start), ctx.Err()
	case <-timer.C:
		return time.Since(start), nil
	}
}
