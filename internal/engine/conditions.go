package engine

import (
	"context"
	"fmt"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/task"
)

// SceneIs holds when the detector reports label.
func SceneIs(d device.Detector, label string) task.Condition {
	return task.ConditionFunc{
		Label: fmt.Sprintf("scene_is(%s)", label),
		Fn: func(ctx context.Context, _ *task.ExecutionContext) (bool, error) {
			scene, err := d.DetectScene(ctx)
			if err != nil {
				return false, &task.DetectionError{Target: "scene", Err: err}
			}
			return scene == label, nil
		},
	}
}

// ElementVisible holds when name matches at or above threshold. The match
// position is stored in the context metadata under "<name>.position".
func ElementVisible(d device.Detector, name string, threshold float64) task.Condition {
	return task.ConditionFunc{
		Label: fmt.Sprintf("element_visible(%s)", name),
		Fn: func(ctx context.Context, ec *task.ExecutionContext) (bool, error) {
			m, err := d.FindElement(ctx, name, threshold)
			if err != nil {
				return false, &task.DetectionError{Target: name, Err: err}
			}
			if m == nil {
				return false, nil
			}
			if ec != nil {
				ec.Set(name+".position", m.Position)
			}
			return true, nil
		},
	}
}

// ElementGone holds when name is not found.
func ElementGone(d device.Detector, name string, threshold float64) task.Condition {
	return task.ConditionFunc{
		Label: fmt.Sprintf("element_gone(%s)", name),
		Fn: func(ctx context.Context, _ *task.ExecutionContext) (bool, error) {
			m, err := d.FindElement(ctx, name, threshold)
			if err != nil {
				return false, &task.DetectionError{Target: name, Err: err}
			}
			return m == nil, nil
		},
	}
}

// TargetActive holds while the target window is present.
func TargetActive(d device.Detector) task.Condition {
	return task.ConditionFunc{
		Label: "target_active",
		Fn: func(ctx context.Context, _ *task.ExecutionContext) (bool, error) {
			return d.IsTargetActive(ctx), nil
		},
	}
}
