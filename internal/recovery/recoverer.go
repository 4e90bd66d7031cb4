package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aristath/scenepilot/internal/device"
)

// Config controls recovery timing and the elements actions look for.
type Config struct {
	Cooldown      time.Duration `yaml:"cooldown"`       // Minimum gap between recoveries of one kind
	ActionTimeout time.Duration `yaml:"action_timeout"` // Budget for a single action
	HistorySize   int           `yaml:"history_size"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	CoolDownDelay time.Duration `yaml:"cool_down_delay"`
	FallbackDelay time.Duration `yaml:"fallback_delay"`
	Threshold     float64       `yaml:"threshold"`
	PopupElements []string      `yaml:"popup_elements"`
	HomeElement   string        `yaml:"home_element"`
	BackElement   string        `yaml:"back_element"`
}

// DefaultConfig returns the recovery defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:      2 * time.Second,
		ActionTimeout: 5 * time.Second,
		HistorySize:   100,
		SettleDelay:   time.Second,
		CoolDownDelay: 2 * time.Second,
		FallbackDelay: 500 * time.Millisecond,
		Threshold:     0.8,
		PopupElements: []string{"close_button", "ok_button", "cancel_button"},
		HomeElement:   "home_button",
		BackElement:   "back_button",
	}
}

// Strategy names which plan produced a result.
const (
	StrategyClassified = "classified"
	StrategyFallback   = "fallback"
	StrategyNone       = "none"
)

// RecoveryResult reports what was tried for one ErrorRecord.
type RecoveryResult struct {
	Kind      Kind
	TaskID    string
	Attempt   int
	Strategy  string
	Tried     []string
	Action    string // Action after which the check passed
	Recovered bool
	Skipped   bool   // Blocked by cooldown or not applicable
	Reason    string // Why it was skipped
	Duration  time.Duration
	At        time.Time
}

// Recoverer runs recovery plans. It is safe for concurrent use; target
// calls are expected to be serialized by the caller's device gate.
type Recoverer struct {
	target   device.Target
	cfg      Config
	plans    map[Kind]Plan
	fallback Plan
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
	history  []RecoveryResult
}

// NewRecoverer creates a recoverer with the default plans. healthy, if
// non-nil, decides whether resource exhaustion has cleared.
func NewRecoverer(target device.Target, cfg Config, healthy func() bool, logger *zap.Logger) *Recoverer {
	def := DefaultConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.CoolDownDelay <= 0 {
		cfg.CoolDownDelay = def.CoolDownDelay
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = def.FallbackDelay
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if len(cfg.PopupElements) == 0 {
		cfg.PopupElements = def.PopupElements
	}
	if cfg.HomeElement == "" {
		cfg.HomeElement = def.HomeElement
	}
	if cfg.BackElement == "" {
		cfg.BackElement = def.BackElement
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	plans, fallback := DefaultPlans(cfg, healthy)
	limiters := make(map[Kind]*rate.Limiter, len(Kinds()))
	for _, k := range Kinds() {
		limiters[k] = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}

	return &Recoverer{
		target:   target,
		cfg:      cfg,
		plans:    plans,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "recovery")),
		limiters: limiters,
	}
}

// SetPlan replaces the plan for a kind.
func (r *Recoverer) SetPlan(k Kind, p Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[k] = p
}

// SetFallback replaces the fallback plan.
func (r *Recoverer) SetFallback(p Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Recover runs the plan for rec.Kind and, if that does not recover the
// target, the fallback plan. Control-flow failures are not recovered.
func (r *Recoverer) Recover(ctx context.Context, rec ErrorRecord) RecoveryResult {
	start := time.Now()
	res := RecoveryResult{
		Kind:     rec.Kind,
		TaskID:   rec.TaskID,
		Attempt:  rec.Attempt,
		Strategy: StrategyNone,
		At:       start,
	}

	if rec.Kind == KindControlFlow {
		res.Skipped = true
		res.Reason = "control-flow failures are retried without recovery"
		return r.finish(res, start)
	}

	r.mu.Lock()
	limiter := r.limiters[rec.Kind]
	plan, hasPlan := r.plans[rec.Kind]
	fallback := r.fallback
	r.mu.Unlock()

	if limiter != nil && !limiter.Allow() {
		res.Skipped = true
		res.Reason = fmt.Sprintf("%s recovery cooling down", rec.Kind)
		r.logger.Debug("recovery skipped",
			zap.String("task_id", rec.TaskID),
			zap.String("kind", rec.Kind.String()))
		return r.finish(res, start)
	}

	if hasPlan {
		res.Strategy = StrategyClassified
		if r.runPlan(ctx, plan, &res) {
			return r.finish(res, start)
		}
	}
	if ctx.Err() == nil {
		res.Strategy = StrategyFallback
		r.runPlan(ctx, fallback, &res)
	}
	return r.finish(res, start)
}

func (r *Recoverer) runPlan(ctx context.Context, plan Plan, res *RecoveryResult) bool {
	for _, action := range plan.Actions {
		if ctx.Err() != nil {
			return false
		}
		res.Tried = append(res.Tried, action.Name)
		if !r.runAction(ctx, action) {
			continue
		}
		if plan.Check == nil || r.runCheck(ctx, plan.Check) {
			res.Action = action.Name
			res.Recovered = true
			return true
		}
	}
	return false
}

// runAction executes one action under the action timeout and converts a
// panic into a failed action.
func (r *Recoverer) runAction(ctx context.Context, action Action) (ok bool) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("recovery action panicked",
				zap.String("action", action.Name),
				zap.Any("panic", p))
			ok = false
		}
	}()
	return action.Run(actx, r.target)
}

func (r *Recoverer) runCheck(ctx context.Context, check Check) (ok bool) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.ActionTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	return check(actx, r.target)
}

func (r *Recoverer) finish(res RecoveryResult, start time.Time) RecoveryResult {
	res.Duration = time.Since(start)

	r.mu.Lock()
	r.history = append(r.history, res)
	if over := len(r.history) - r.cfg.HistorySize; over > 0 {
		r.history = append(r.history[:0], r.history[over:]...)
	}
	r.mu.Unlock()

	if !res.Skipped {
		r.logger.Info("recovery finished",
			zap.String("task_id", res.TaskID),
			zap.String("kind", res.Kind.String()),
			zap.String("strategy", res.Strategy),
			zap.Strings("tried", res.Tried),
			zap.Bool("recovered", res.Recovered),
			zap.Duration("duration", res.Duration))
	}
	return res
}

// History returns the recorded results, oldest first.
func (r *Recoverer) History() []RecoveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecoveryResult(nil), r.history...)
}

// Stats summarises the history per kind.
type Stats struct {
	Attempts  int
	Recovered int
	Skipped   int
}

// Stats returns per-kind counts over the retained history.
func (r *Recoverer) Stats() map[Kind]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Kind]Stats)
	for _, res := range r.history {
		s := out[res.Kind]
		s.Attempts++
		if res.Recovered {
			s.Recovered++
		}
		if res.Skipped {
			s.Skipped++
		}
		out[res.Kind] = s
	}
	return out
}
