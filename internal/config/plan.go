package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/scenepilot/internal/task"
)

// PlanTask is one task entry in a plan file. DependsOn and Resources refer
// to other entries by ID and to named locks respectively.
type PlanTask struct {
	ID             string           `yaml:"id"`
	Type           string           `yaml:"type"`
	Name           string           `yaml:"name,omitempty"`
	Priority       string           `yaml:"priority,omitempty"`
	MaxRetries     int              `yaml:"max_retries,omitempty"`
	Timeout        time.Duration    `yaml:"timeout,omitempty"`
	RequiredScenes []string         `yaml:"required_scenes,omitempty"`
	Retry          task.RetryPolicy `yaml:"retry,omitempty"`
	Metadata       map[string]any   `yaml:"metadata,omitempty"`
	DependsOn      []string         `yaml:"depends_on,omitempty"`
	Resources      []string         `yaml:"resources,omitempty"`
}

// Plan is a list of tasks to submit together.
type Plan struct {
	Tasks []PlanTask `yaml:"tasks"`
}

// LoadPlan reads a plan file and checks every entry converts to a task config.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes plan YAML.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	seen := make(map[string]bool, len(plan.Tasks))
	for i, pt := range plan.Tasks {
		if pt.ID == "" {
			return nil, fmt.Errorf("plan task %d has no id", i)
		}
		if seen[pt.ID] {
			return nil, fmt.Errorf("plan task %q is defined twice", pt.ID)
		}
		seen[pt.ID] = true
		if _, err := pt.TaskConfig(); err != nil {
			return nil, err
		}
	}
	return &plan, nil
}

// TaskConfig converts the entry. Priority defaults to normal.
func (pt PlanTask) TaskConfig() (task.TaskConfig, error) {
	typ, err := task.ParseTaskType(pt.Type)
	if err != nil {
		return task.TaskConfig{}, fmt.Errorf("plan task %q: %w", pt.ID, err)
	}
	prio := task.PriorityNormal
	if pt.Priority != "" {
		if prio, err = task.ParsePriority(pt.Priority); err != nil {
			return task.TaskConfig{}, fmt.Errorf("plan task %q: %w", pt.ID, err)
		}
	}
	cfg := task.TaskConfig{
		ID:             pt.ID,
		Type:           typ,
		Name:           pt.Name,
		Priority:       prio,
		MaxRetries:     pt.MaxRetries,
		Timeout:        pt.Timeout,
		RequiredScenes: pt.RequiredScenes,
		Retry:          pt.Retry,
		Metadata:       pt.Metadata,
	}
	return cfg, cfg.Validate()
}
