package config

import (
	"time"

	"github.com/aristath/scenepilot/internal/engine"
	"github.com/aristath/scenepilot/internal/governor"
	"github.com/aristath/scenepilot/internal/recovery"
	"github.com/aristath/scenepilot/internal/scene"
	"github.com/aristath/scenepilot/internal/wait"
)

// DefaultSchedulerConfig returns the pool defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentTasks:     3,
		TickInterval:           100 * time.Millisecond,
		MaxExecutionTime:       5 * time.Minute,
		PriorityBoostThreshold: 5 * time.Minute,
		HistorySize:            1000,
	}
}

// DefaultConfig returns the default configuration with every component's
// defaults and the built-in workflows.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Scene:     scene.DefaultConfig(),
		Wait:      wait.DefaultConfig(),
		Recovery:  recovery.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Governor:  governor.DefaultConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Workflows: map[string]WorkflowConfig{
			"daily-run": {
				Steps: []WorkflowStepConfig{
					{Type: "navigation", Name: "open-rewards", Metadata: map[string]any{"element": "rewards_button"}},
					{Type: "collection", Name: "claim-rewards", Metadata: map[string]any{"element": "claim_button"}},
					{Type: "navigation", Name: "return-home", Metadata: map[string]any{"element": "home_button"}},
				},
			},
		},
	}
}
