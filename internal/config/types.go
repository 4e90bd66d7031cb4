package config

import (
	"time"

	"github.com/aristath/scenepilot/internal/engine"
	"github.com/aristath/scenepilot/internal/governor"
	"github.com/aristath/scenepilot/internal/recovery"
	"github.com/aristath/scenepilot/internal/scene"
	"github.com/aristath/scenepilot/internal/wait"
)

// LoggingConfig selects the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig controls the prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// PersistenceConfig points at the sqlite history archive. An empty Path disables it.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig sizes the worker pool and its dispatch loop.
type SchedulerConfig struct {
	MaxConcurrentTasks     int           `yaml:"max_concurrent_tasks"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	MaxExecutionTime       time.Duration `yaml:"max_execution_time"`       // Wall-clock budget per execution, 0 disables the sweep
	PriorityBoostThreshold time.Duration `yaml:"priority_boost_threshold"` // Reserved for queue aging
	HistorySize            int           `yaml:"history_size"`             // Terminal executions kept in memory
}

// WorkflowStepConfig defines one step in a workflow pipeline.
type WorkflowStepConfig struct {
	Type       string         `yaml:"type"`
	Name       string         `yaml:"name,omitempty"`
	Priority   string         `yaml:"priority,omitempty"`
	MaxRetries int            `yaml:"max_retries,omitempty"`
	Timeout    time.Duration  `yaml:"timeout,omitempty"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
}

// WorkflowConfig defines a chain of task steps (e.g. navigate -> collect -> return).
// When a task tagged with the workflow completes, the next step is submitted.
type WorkflowConfig struct {
	Steps []WorkflowStepConfig `yaml:"steps"`
}

// Config is the top-level configuration.
type Config struct {
	Logging     LoggingConfig             `yaml:"logging"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	Persistence PersistenceConfig         `yaml:"persistence"`
	Scene       scene.Config              `yaml:"scene"`
	Wait        wait.Config               `yaml:"wait"`
	Recovery    recovery.Config           `yaml:"recovery"`
	Engine      engine.Config             `yaml:"engine"`
	Governor    governor.Config           `yaml:"governor"`
	Scheduler   SchedulerConfig           `yaml:"scheduler"`
	Workflows   map[string]WorkflowConfig `yaml:"workflows"`
}
