package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/scenepilot/internal/actions"
	"github.com/aristath/scenepilot/internal/config"
	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/engine"
	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/governor"
	"github.com/aristath/scenepilot/internal/metrics"
	"github.com/aristath/scenepilot/internal/persistence"
	"github.com/aristath/scenepilot/internal/recovery"
	"github.com/aristath/scenepilot/internal/scene"
	"github.com/aristath/scenepilot/internal/scheduler"
	"github.com/aristath/scenepilot/internal/task"
	"github.com/aristath/scenepilot/internal/wait"
)

// runtime is every component of a running pilot, wired together.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	metrics  *metrics.Collector
	gate     *device.Gate
	observer *scene.Observer
	governor *governor.Governor
	store    *persistence.SQLiteStore // nil when persistence is disabled
	pool     *scheduler.Pool
}

// newRuntime wires the components around target. Access to the target is
// serialized through a device.Gate; call serve to start it.
func newRuntime(ctx context.Context, cfg *config.Config, target device.Target, sampler governor.Sampler, logger *zap.Logger) (*runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sampler == nil {
		sampler = governor.NewProcSampler(procfs.DefaultMountPoint)
	}
	workers := cfg.Scheduler.MaxConcurrentTasks

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(),
		metrics: metrics.NewCollector("scenepilot", logger),
		gate:    device.NewGate(target, 2*workers+2),
	}

	rt.observer = scene.NewObserver(rt.gate, cfg.Scene, rt.bus, logger)
	rt.observer.OnTransition(rt.metrics.SceneTransition)

	govCfg := cfg.Governor
	govCfg.MaxConcurrentTasks = workers
	rt.governor = governor.New(sampler, govCfg, rt.bus, rt.metrics, logger)
	rt.governor.Register(rt.observer)

	waiter := wait.NewCoordinator(rt.gate, rt.observer, cfg.Wait, logger)
	recoverer := recovery.NewRecoverer(rt.gate, cfg.Recovery, rt.governor.Healthy, logger)

	registry := task.NewRegistry()
	kit := actions.NewKit(rt.gate, rt.gate, waiter, actions.Config{Threshold: cfg.Wait.Threshold}, logger)
	if err := kit.Register(registry); err != nil {
		return nil, fmt.Errorf("registering executors: %w", err)
	}

	orch := engine.NewOrchestrator(registry, waiter, cfg.Engine, engine.Options{
		Recoverer: recoverer,
		Bus:       rt.bus,
		Recorder:  rt.metrics,
		Logger:    logger,
	})

	opts := scheduler.Options{
		Admission: rt.governor,
		Locks:     scheduler.NewResourceLockManager(),
		Workflows: scheduler.NewWorkflowManager(cfg.Workflows),
		Bus:       rt.bus,
		Recorder:  rt.metrics,
		Logger:    logger,
	}
	if cfg.Persistence.Path != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Persistence.Path)
		if err != nil {
			return nil, fmt.Errorf("opening history archive: %w", err)
		}
		rt.store = store
		opts.Archive = store
	}
	rt.pool = scheduler.NewPool(cfg.Scheduler, orch, opts)

	return rt, nil
}

// serve runs the observer, the dispatch loop and the metrics endpoint until
// ctx ends. The gate outlives them so in-flight executions can settle.
func (rt *runtime) serve(ctx context.Context) error {
	gateCtx, stopGate := context.WithCancel(context.Background())
	rt.gate.Start(gateCtx)
	defer func() {
		stopGate()
		rt.gate.Stop()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.observer.Run(gctx) })
	g.Go(func() error { return rt.pool.Run(gctx) })
	if rt.cfg.Metrics.Addr != "" {
		g.Go(func() error { return rt.serveMetrics(gctx) })
	}
	return g.Wait()
}

func (rt *runtime) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(rt.cfg.Metrics.Path, rt.metrics.Handler())
	srv := &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("metrics endpoint listening",
			zap.String("addr", rt.cfg.Metrics.Addr),
			zap.String("path", rt.cfg.Metrics.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases the archive and the event bus.
func (rt *runtime) Close() {
	rt.bus.Close()
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing history archive failed", zap.Error(err))
		}
	}
}
