package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/scenepilot/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string // Project config, layered over ~/.scenepilot/config.yaml
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "scenepilot",
		Short: "Schedule and run UI automation tasks against a screen-observed target",
		Long: `scenepilot queues UI automation tasks by priority, runs them on a bounded
worker pool with retries and error recovery, and watches the target's scene
to gate and verify each step.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", filepath.Join(".scenepilot", "config.yaml"), "Project config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override logging.level")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Override logging.format")

	root.AddCommand(runCmd(g))
	root.AddCommand(validateCmd(g))
	root.AddCommand(monitorCmd(g))
	root.AddCommand(configCmd(g))
	return root
}

// loadConfig layers defaults, the global file and the project file, then
// applies logging overrides from flags.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.globalPath(), g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// globalPath is ~/.scenepilot/config.yaml, or empty without a home directory.
func (g *globalFlags) globalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scenepilot", "config.yaml")
}
