// Package task defines the task model shared by the scheduler and the
// execution engine: task configuration, priorities, type tags, the
// per-attempt execution context and the executor registry.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders pending work. Lower values dispatch first.
type Priority int

const (
	PriorityCritical   Priority = iota // Dispatched before everything else
	PriorityHigh                       // Time-sensitive work
	PriorityNormal                     // Default
	PriorityLow                        // Opportunistic work
	PriorityBackground                 // Runs only when nothing else is waiting
)

// NumPriorities is the number of discrete priority levels.
const NumPriorities = 5

var priorityNames = [NumPriorities]string{"critical", "high", "normal", "low", "background"}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TaskType is the tag used to look up an executor in the Registry.
// The set of tags is closed; ParseTaskType rejects anything else.
type TaskType string

const (
	TypeNavigation  TaskType = "navigation"
	TypeCollection  TaskType = "collection"
	TypeCombat      TaskType = "combat"
	TypeDaily       TaskType = "daily"
	TypeMaintenance TaskType = "maintenance"
	TypeCustom      TaskType = "custom"
)

// TaskTypes returns every known task type tag.
func TaskTypes() []TaskType {
	return []TaskType{TypeNavigation, TypeCollection, TypeCombat, TypeDaily, TypeMaintenance, TypeCustom}
}

// Valid reports whether t is a known tag.
func (t TaskType) Valid() bool {
	for _, known := range TaskTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTaskType converts a string to a known TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// DelayStrategy selects how long to wait between attempts.
type DelayStrategy string

const (
	DelayFixed       DelayStrategy = "fixed"
	DelayExponential DelayStrategy = "exponential"
	DelayAdaptive    DelayStrategy = "adaptive"
	DelaySceneBased  DelayStrategy = "scene"
)

// RetryPolicy holds the per-task backoff parameters. Zero values fall back
// to the engine defaults.
type RetryPolicy struct {
	Strategy  DelayStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	BaseDelay time.Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	MaxDelay  time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// TaskConfig declares one unit of automation work. It is treated as
// immutable once submitted.
type TaskConfig struct {
	ID             string
	Type           TaskType
	Name           string
	Priority       Priority
	MaxRetries     int
	Timeout        time.Duration // Per-attempt wait budget (required scenes, executor deadline)
	PreConditions  []Condition
	PostConditions []Condition
	RequiredScenes []string
	Retry          RetryPolicy
	Metadata       map[string]any
}

// Validate checks the fields the engine relies on.
func (c TaskConfig) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("task %q: unknown task type %q", c.ID, c.Type)
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("task %q: invalid priority %d", c.ID, int(c.Priority))
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("task %q: max retries must not be negative", c.ID)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("task %q: timeout must not be negative", c.ID)
	}
	return nil
}

// DisplayName returns Name, falling back to the ID.
func (c TaskConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// MetaString returns a string metadata value, or "" if missing.
func (c TaskConfig) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}
