package scheduler

import (
	"testing"

	"github.com/aristath/scenepilot/internal/config"
	"github.com/aristath/scenepilot/internal/task"
)

// setupTestWorkflow creates a WorkflowManager with a three-step workflow for testing.
func setupTestWorkflow() *WorkflowManager {
	return NewWorkflowManager(map[string]config.WorkflowConfig{
		"daily": {
			Steps: []config.WorkflowStepConfig{
				{Type: "navigation", Name: "open", Metadata: map[string]any{"element": "rewards"}},
				{Type: "collection", Name: "claim", Priority: "high", MaxRetries: 2},
				{Type: "navigation"},
			},
		},
	})
}

func TestWorkflowManager_StepChain(t *testing.T) {
	wm := setupTestWorkflow()

	first, err := wm.Start("daily")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if first.ID != "daily-open" {
		t.Errorf("Expected ID 'daily-open', got %s", first.ID)
	}
	if first.Type != task.TypeNavigation {
		t.Errorf("Expected navigation type, got %s", first.Type)
	}
	if first.MetaString("element") != "rewards" {
		t.Errorf("Expected step metadata to be copied, got %v", first.Metadata)
	}

	second, ok, err := wm.OnTaskCompleted(first)
	if err != nil || !ok {
		t.Fatalf("Expected follow-up after first step, got ok=%v err=%v", ok, err)
	}
	if second.ID != "daily-open-claim" {
		t.Errorf("Expected ID 'daily-open-claim', got %s", second.ID)
	}
	if second.Priority != task.PriorityHigh {
		t.Errorf("Expected high priority from step, got %s", second.Priority)
	}
	if second.MaxRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", second.MaxRetries)
	}
	if second.MetaString(MetaParent) != "daily-open" {
		t.Errorf("Expected parent metadata, got %q", second.MetaString(MetaParent))
	}

	third, ok, err := wm.OnTaskCompleted(second)
	if err != nil || !ok {
		t.Fatalf("Expected follow-up after second step, got ok=%v err=%v", ok, err)
	}
	if third.Name != "navigation-3" {
		t.Errorf("Expected generated name 'navigation-3', got %s", third.Name)
	}
	if third.Priority != task.PriorityHigh {
		t.Errorf("Expected priority inherited from parent, got %s", third.Priority)
	}

	if _, ok, _ := wm.OnTaskCompleted(third); ok {
		t.Error("Expected no follow-up after last step")
	}
}

func TestWorkflowManager_NoMatchingWorkflow(t *testing.T) {
	wm := setupTestWorkflow()

	tests := []struct {
		name string
		meta map[string]any
	}{
		{"no metadata", nil},
		{"unknown workflow", map[string]any{MetaWorkflow: "weekly", MetaWorkflowStep: 0}},
		{"missing step", map[string]any{MetaWorkflow: "daily"}},
		{"step out of range", map[string]any{MetaWorkflow: "daily", MetaWorkflowStep: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := task.TaskConfig{ID: "x", Type: task.TypeCustom, Metadata: tt.meta}
			next, ok, err := wm.OnTaskCompleted(cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Errorf("Expected no follow-up, got %+v", next)
			}
		})
	}
}

func TestWorkflowManager_StepIndexFromDecodedNumbers(t *testing.T) {
	wm := setupTestWorkflow()

	for _, v := range []any{1, int64(1), uint64(1), float64(1)} {
		cfg := task.TaskConfig{ID: "x", Type: task.TypeCollection, Metadata: map[string]any{MetaWorkflow: "daily", MetaWorkflowStep: v}}
		name, wf, idx := wm.FindWorkflow(cfg)
		if name != "daily" || wf == nil || idx != 1 {
			t.Errorf("step %T: expected daily/1, got %q/%d", v, name, idx)
		}
	}
}

func TestWorkflowManager_StartUnknown(t *testing.T) {
	wm := setupTestWorkflow()
	if _, err := wm.Start("weekly"); err == nil {
		t.Error("Expected error for unknown workflow")
	}
}
