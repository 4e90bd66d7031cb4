package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/scenepilot/internal/config"
	"github.com/aristath/scenepilot/internal/logging"
	"github.com/aristath/scenepilot/internal/scheduler"
	"github.com/aristath/scenepilot/internal/tui"
)

type runFlags struct {
	planPath    string
	workflows   []string
	simulate    bool
	workers     int
	dbPath      string
	metricsAddr string
	withTUI     bool
	keepRunning bool
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a plan and workflows, then run them to completion",
		Long: `Run starts the scene observer and the worker pool, submits the tasks of
--plan and the first step of every --workflow, and exits once the pool is
idle. Without --plan or --workflow every configured workflow is started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cfg); err != nil {
				return err
			}
			if !f.simulate {
				return errors.New("no device backend is available in this build; run with --simulate")
			}

			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runPilot(cmd.Context(), cmd, cfg, f, logger)
		},
	}

	cmd.Flags().StringVarP(&f.planPath, "plan", "p", "", "Plan file of tasks to submit")
	cmd.Flags().StringArrayVarP(&f.workflows, "workflow", "w", nil, "Workflow to start (repeatable)")
	cmd.Flags().BoolVar(&f.simulate, "simulate", true, "Drive the built-in simulated target")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Override scheduler.max_concurrent_tasks")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "Override persistence.path")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Override metrics.addr")
	cmd.Flags().BoolVar(&f.withTUI, "tui", false, "Show the live monitor")
	cmd.Flags().BoolVar(&f.keepRunning, "keep-running", false, "Keep serving after the pool goes idle")
	return cmd
}

// apply copies flag overrides into cfg.
func (f *runFlags) apply(cfg *config.Config) error {
	if f.workers > 0 {
		cfg.Scheduler.MaxConcurrentTasks = f.workers
	}
	if f.dbPath != "" {
		cfg.Persistence.Path = f.dbPath
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if len(f.workflows) == 0 && f.planPath == "" {
		for name := range cfg.Workflows {
			f.workflows = append(f.workflows, name)
		}
		sort.Strings(f.workflows)
	}
	for _, name := range f.workflows {
		if _, ok := cfg.Workflows[name]; !ok {
			return fmt.Errorf("unknown workflow %q", name)
		}
	}
	return cfg.Validate()
}

// planEntries loads the plan file, if any.
func (f *runFlags) planEntries() ([]scheduler.PlanEntry, error) {
	if f.planPath == "" {
		return nil, nil
	}
	plan, err := config.LoadPlan(f.planPath)
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.PlanEntry, 0, len(plan.Tasks))
	for _, pt := range plan.Tasks {
		tc, err := pt.TaskConfig()
		if err != nil {
			return nil, err
		}
		entries = append(entries, scheduler.PlanEntry{
			Config:    tc,
			DependsOn: pt.DependsOn,
			Resources: pt.Resources,
		})
	}
	if _, err := scheduler.OrderPlan(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func runPilot(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f *runFlags, logger *zap.Logger) error {
	entries, err := f.planEntries()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg, newDemoTarget(), nil, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The monitor subscribes before anything is submitted so it sees every event.
	var program *tea.Program
	if f.withTUI {
		program = tea.NewProgram(tui.New(rt.bus, rt.pool, time.Second), tea.WithAltScreen(), tea.WithContext(runCtx))
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return rt.serve(gctx) })

	g.Go(func() error {
		if err := submit(rt.pool, entries, f.workflows, logger); err != nil {
			cancel()
			return err
		}
		if f.keepRunning || program != nil {
			return nil
		}
		err := rt.pool.WaitIdle(gctx)
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if program != nil {
		g.Go(func() error {
			defer cancel()
			_, err := program.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	execs := rt.pool.Executions()
	printExecutions(cmd.OutOrStdout(), execs)
	if n := countIncomplete(execs); n > 0 {
		return fmt.Errorf("%d of %d executions did not complete", n, len(execs))
	}
	return nil
}

func submit(pool *scheduler.Pool, entries []scheduler.PlanEntry, workflows []string, logger *zap.Logger) error {
	if len(entries) > 0 {
		ids, err := pool.SubmitPlan(entries)
		if err != nil {
			return err
		}
		logger.Info("plan submitted", zap.Int("tasks", len(ids)))
	}
	for _, name := range workflows {
		id, err := pool.StartWorkflow(name)
		if err != nil {
			return err
		}
		logger.Info("workflow started", zap.String("workflow", name), zap.String("execution_id", id))
	}
	return nil
}

func countIncomplete(execs []scheduler.TaskExecution) int {
	n := 0
	for _, e := range execs {
		if e.State != scheduler.StateCompleted {
			n++
		}
	}
	return n
}
