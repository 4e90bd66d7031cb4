package recovery

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/aristath/scenepilot/internal/device"
)

// Action is one remedial step. Run reports whether it did its job; it must
// not be relied upon to return errors or avoid panics, the recoverer
// guards both.
type Action struct {
	Name string
	Run  func(ctx context.Context, target device.Target) bool
}

// Check decides whether the target has recovered after an action.
type Check func(ctx context.Context, target device.Target) bool

// Plan is an ordered list of actions with the check run after each.
type Plan struct {
	Actions []Action
	Check   Check
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Recapture takes a fresh screenshot so the next detection sees current pixels.
func Recapture() Action {
	return Action{Name: "recapture", Run: func(ctx context.Context, t device.Target) bool {
		img, err := t.Capture(ctx)
		return err == nil && img != nil
	}}
}

// DismissPopup clicks the first visible element among names.
func DismissPopup(names []string, threshold float64) Action {
	return Action{Name: "dismiss_popup", Run: func(ctx context.Context, t device.Target) bool {
		for _, name := range names {
			m, err := t.FindElement(ctx, name, threshold)
			if err != nil || m == nil {
				continue
			}
			return t.Click(ctx, m.Position, device.ClickSingle).Success
		}
		return false
	}}
}

// ClickElement finds name and clicks it. Used for home and back buttons.
func ClickElement(actionName, element string, threshold float64) Action {
	return Action{Name: actionName, Run: func(ctx context.Context, t device.Target) bool {
		m, err := t.FindElement(ctx, element, threshold)
		if err != nil || m == nil {
			return false
		}
		return t.Click(ctx, m.Position, device.ClickSingle).Success
	}}
}

// Settle waits for the target to finish animating.
func Settle(d time.Duration) Action {
	return Action{Name: "settle", Run: func(ctx context.Context, _ device.Target) bool {
		return sleep(ctx, d)
	}}
}

// FreeMemory returns freed heap to the OS.
func FreeMemory() Action {
	return Action{Name: "free_memory", Run: func(context.Context, device.Target) bool {
		debug.FreeOSMemory()
		return true
	}}
}

// CoolDown pauses to let load drop.
func CoolDown(d time.Duration) Action {
	return Action{Name: "cool_down", Run: func(ctx context.Context, _ device.Target) bool {
		return sleep(ctx, d)
	}}
}

// Snapshot captures the screen for diagnosis. A nil image still counts
// as done; the liveness check decides recovery.
func Snapshot() Action {
	return Action{Name: "snapshot", Run: func(ctx context.Context, t device.Target) bool {
		_, err := t.Capture(ctx)
		return err == nil
	}}
}

// ShortDelay is the generic pause of the fallback plan.
func ShortDelay(d time.Duration) Action {
	return Action{Name: "short_delay", Run: func(ctx context.Context, _ device.Target) bool {
		return sleep(ctx, d)
	}}
}

// LivenessCheck reports whether the target window is present.
func LivenessCheck() Action {
	return Action{Name: "liveness_check", Run: func(ctx context.Context, t device.Target) bool {
		return t.IsTargetActive(ctx)
	}}
}

// SceneKnown is the recovered check for detection failures.
func SceneKnown(ctx context.Context, t device.Target) bool {
	label, err := t.DetectScene(ctx)
	return err == nil && label != "" && label != device.SceneUnknown
}

// TargetResponsive is the recovered check for timeouts.
func TargetResponsive(ctx context.Context, t device.Target) bool {
	if !t.IsTargetActive(ctx) {
		return false
	}
	_, err := t.DetectScene(ctx)
	return err == nil
}

// TargetAlive is the recovered check for the fallback plan.
func TargetAlive(ctx context.Context, t device.Target) bool {
	return t.IsTargetActive(ctx)
}

// DefaultPlans builds the per-kind plans and the fallback plan.
func DefaultPlans(cfg Config, healthy func() bool) (map[Kind]Plan, Plan) {
	resourceCheck := func(ctx context.Context, t device.Target) bool {
		if healthy == nil {
			return true
		}
		return healthy()
	}

	plans := map[Kind]Plan{
		KindDetection: {
			Actions: []Action{
				Recapture(),
				DismissPopup(cfg.PopupElements, cfg.Threshold),
				ClickElement("navigate_home", cfg.HomeElement, cfg.Threshold),
			},
			Check: SceneKnown,
		},
		KindTimeout: {
			Actions: []Action{
				Settle(cfg.SettleDelay),
				ClickElement("press_back", cfg.BackElement, cfg.Threshold),
			},
			Check: TargetResponsive,
		},
		KindResource: {
			Actions: []Action{
				FreeMemory(),
				CoolDown(cfg.CoolDownDelay),
			},
			Check: resourceCheck,
		},
	}
	fallback := Plan{
		Actions: []Action{
			Snapshot(),
			ShortDelay(cfg.FallbackDelay),
			LivenessCheck(),
		},
		Check: TargetAlive,
	}
	return plans, fallback
}
