package scheduler

import (
	"fmt"
	"maps"

	"github.com/aristath/scenepilot/internal/config"
	"github.com/aristath/scenepilot/internal/task"
)

// Metadata keys that tie a task to a workflow step.
const (
	MetaWorkflow     = "workflow"
	MetaWorkflowStep = "workflow_step"
	MetaParent       = "parent"
)

// WorkflowManager builds follow-up tasks from workflow configuration.
// When a task tagged with a workflow and step index completes, the next
// step's task is created depending on it.
type WorkflowManager struct {
	workflows map[string]config.WorkflowConfig // workflow name -> config
}

// NewWorkflowManager creates a new WorkflowManager.
func NewWorkflowManager(workflows map[string]config.WorkflowConfig) *WorkflowManager {
	return &WorkflowManager{workflows: workflows}
}

// Start builds the first step of the named workflow.
func (wm *WorkflowManager) Start(name string) (task.TaskConfig, error) {
	wf, ok := wm.workflows[name]
	if !ok {
		return task.TaskConfig{}, fmt.Errorf("unknown workflow %q", name)
	}
	if len(wf.Steps) == 0 {
		return task.TaskConfig{}, fmt.Errorf("workflow %q has no steps", name)
	}
	return wm.stepConfig(name, wf, 0, name, task.PriorityNormal)
}

// OnTaskCompleted returns the next step for a completed task. The bool is
// false when the task is not part of a workflow or was its last step.
func (wm *WorkflowManager) OnTaskCompleted(completed task.TaskConfig) (task.TaskConfig, bool, error) {
	name, wf, idx := wm.FindWorkflow(completed)
	if wf == nil {
		return task.TaskConfig{}, false, nil
	}
	if idx >= len(wf.Steps)-1 {
		return task.TaskConfig{}, false, nil
	}

	next, err := wm.stepConfig(name, *wf, idx+1, completed.ID, completed.Priority)
	if err != nil {
		return task.TaskConfig{}, false, fmt.Errorf("building follow-up for workflow %q: %w", name, err)
	}
	next.Metadata[MetaParent] = completed.ID
	return next, true, nil
}

// FindWorkflow returns the workflow name, config and step index a task
// belongs to. Returns an empty name and nil config if it belongs to none.
func (wm *WorkflowManager) FindWorkflow(cfg task.TaskConfig) (string, *config.WorkflowConfig, int) {
	name := cfg.MetaString(MetaWorkflow)
	if name == "" {
		return "", nil, -1
	}
	wf, ok := wm.workflows[name]
	if !ok {
		return "", nil, -1
	}
	idx, ok := stepIndex(cfg.Metadata[MetaWorkflowStep])
	if !ok || idx < 0 || idx >= len(wf.Steps) {
		return "", nil, -1
	}
	return name, &wf, idx
}

// stepConfig turns step idx into a task config. Steps without a priority
// inherit fallback.
func (wm *WorkflowManager) stepConfig(name string, wf config.WorkflowConfig, idx int, prefix string, fallback task.Priority) (task.TaskConfig, error) {
	step := wf.Steps[idx]
	typ, err := task.ParseTaskType(step.Type)
	if err != nil {
		return task.TaskConfig{}, err
	}
	prio := fallback
	if step.Priority != "" {
		if prio, err = task.ParsePriority(step.Priority); err != nil {
			return task.TaskConfig{}, err
		}
	}

	label := step.Name
	if label == "" {
		label = fmt.Sprintf("%s-%d", step.Type, idx+1)
	}

	meta := make(map[string]any, len(step.Metadata)+3)
	maps.Copy(meta, step.Metadata)
	meta[MetaWorkflow] = name
	meta[MetaWorkflowStep] = idx

	return task.TaskConfig{
		ID:         fmt.Sprintf("%s-%s", prefix, label),
		Type:       typ,
		Name:       label,
		Priority:   prio,
		MaxRetries: step.MaxRetries,
		Timeout:    step.Timeout,
		Metadata:   meta,
	}, nil
}

// stepIndex accepts the numeric forms a step index takes after passing
// through YAML or JSON.
func stepIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
