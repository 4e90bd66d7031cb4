package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aristath/scenepilot/internal/task"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed YAML returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.scenepilot/config.yaml
// Project: .scenepilot/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".scenepilot", "config.yaml")
	projectPath := filepath.Join(".scenepilot", "config.yaml")

	return Load(globalPath, projectPath)
}

// mergeConfigFile decodes a YAML file over base. Fields absent from the file
// keep their current value; workflow entries are merged by name.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(base); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks values the components cannot default on their own.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be positive, got %d", c.Scheduler.MaxConcurrentTasks)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.MaxExecutionTime < 0 {
		return fmt.Errorf("scheduler.max_execution_time must not be negative")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	for name, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow %q has no steps", name)
		}
		for i, step := range wf.Steps {
			if _, err := task.ParseTaskType(step.Type); err != nil {
				return fmt.Errorf("workflow %q step %d: %w", name, i, err)
			}
			if step.Priority != "" {
				if _, err := task.ParsePriority(step.Priority); err != nil {
					return fmt.Errorf("workflow %q step %d: %w", name, i, err)
				}
			}
		}
	}
	return nil
}
