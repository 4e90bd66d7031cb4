// Package scheduler queues submitted tasks by priority and dispatches them
// to a fixed set of workers on a periodic tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/config"
	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/task"
)

var (
	ErrPoolClosed        = errors.New("worker pool is closed")
	ErrUnknownDependency = errors.New("unknown dependency")
)

// archiveTimeout bounds a single archive write.
const archiveTimeout = 5 * time.Second

// Runner executes one task to a terminal result. engine.Orchestrator
// satisfies it.
type Runner interface {
	Execute(ctx context.Context, executionID string, cfg task.TaskConfig, tok *task.Token) task.TerminalResult
}

// Admission decides whether another task may start while active tasks run.
// governor.Governor satisfies it.
type Admission interface {
	Allow(active int) (bool, string)
}

// Archive stores terminal executions.
type Archive interface {
	SaveExecution(ctx context.Context, exec TaskExecution) error
}

// Recorder receives scheduler telemetry.
type Recorder interface {
	Dispatched(priority string)
	Requeued()
	ExecutionFinished(taskType, state string, d time.Duration)
	QueueDepth(byLevel [task.NumPriorities]int)
}

// SubmitOption customises a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	deps      []string
	resources []string
}

// WithDependencies makes the execution wait until every listed execution
// has Completed.
func WithDependencies(ids ...string) SubmitOption {
	return func(o *submitOptions) { o.deps = append(o.deps, ids...) }
}

// WithResources names locks held for the whole execution.
func WithResources(names ...string) SubmitOption {
	return func(o *submitOptions) { o.resources = append(o.resources, names...) }
}

// Options wires optional collaborators into the pool.
type Options struct {
	Admission Admission
	Locks     *ResourceLockManager
	Workflows *WorkflowManager
	Archive   Archive
	Bus       *events.Bus
	Recorder  Recorder
	Logger    *zap.Logger
}

// Stats summarises pool activity.
type Stats struct {
	Submitted  int
	Dispatched int
	Completed  int
	Failed     int
	Cancelled  int
	TimedOut   int
	Requeued   int
	Vetoes     int
	Queued     int
	Running    int
	Paused     int
}

type finished struct {
	id     string
	worker int
	result task.TerminalResult
}

type finishedExec struct {
	snap TaskExecution
	cfg  task.TaskConfig
}

// Pool owns the queue, the workers and every TaskExecution record.
// A single goroutine (Run) drives dispatch; task bodies run on their own
// goroutines, one per busy worker.
type Pool struct {
	cfg       config.SchedulerConfig
	runner    Runner
	admission Admission
	locks     *ResourceLockManager
	workflows *WorkflowManager
	archive   Archive
	bus       *events.Bus
	recorder  Recorder
	logger    *zap.Logger
	queue     *Queue
	done      chan finished
	wg        sync.WaitGroup

	mu           sync.Mutex
	execs        map[string]*execution
	dependents   map[string][]string // execution ID -> executions waiting on it
	history      []string            // terminal execution IDs, oldest first
	workers      []WorkerInfo
	stats        Stats
	closed       bool
	settling     int // finished executions whose afterFinish has not run
	lastProgress events.QueueProgressEvent

	runMu     sync.Mutex
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// NewPool creates a pool. Zero config values take the defaults.
func NewPool(cfg config.SchedulerConfig, runner Runner, opts Options) *Pool {
	def := config.DefaultSchedulerConfig()
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if opts.Locks == nil {
		opts.Locks = NewResourceLockManager()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	workers := make([]WorkerInfo, cfg.MaxConcurrentTasks)
	for i := range workers {
		workers[i].ID = i
	}

	return &Pool{
		cfg:        cfg,
		runner:     runner,
		admission:  opts.Admission,
		locks:      opts.Locks,
		workflows:  opts.Workflows,
		archive:    opts.Archive,
		bus:        opts.Bus,
		recorder:   opts.Recorder,
		logger:     opts.Logger.With(zap.String("component", "scheduler")),
		queue:      NewQueue(),
		done:       make(chan finished, cfg.MaxConcurrentTasks),
		execs:      make(map[string]*execution),
		dependents: make(map[string][]string),
		workers:    workers,
	}
}

// Submit queues a task and returns its execution ID. It never blocks.
// Dependencies must be IDs of earlier submissions; a dependency that has
// already failed fails the new execution immediately.
func (p *Pool) Submit(cfg task.TaskConfig, opts ...SubmitOption) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	if cfg.ID == "" {
		cfg.ID = id
	}
	now := time.Now()
	e := &execution{
		TaskExecution: TaskExecution{
			ID:           id,
			TaskID:       cfg.ID,
			Name:         cfg.DisplayName(),
			Type:         cfg.Type,
			Priority:     cfg.Priority,
			State:        StateQueued,
			SubmittedAt:  now,
			WorkerID:     -1,
			Dependencies: append([]string(nil), o.deps...),
			Resources:    sortedCopy(o.resources),
		},
		cfg:     cfg,
		waiting: make(map[string]struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	var depErr error
	for _, dep := range o.deps {
		d, ok := p.execs[dep]
		if !ok {
			p.mu.Unlock()
			return "", fmt.Errorf("%w %q", ErrUnknownDependency, dep)
		}
		switch {
		case d.State == StateCompleted:
		case d.State.Terminal():
			if depErr == nil {
				depErr = fmt.Errorf("%w: %s ended %s", task.ErrDependencyFailed, dep, d.State)
			}
		default:
			e.waiting[dep] = struct{}{}
		}
	}

	p.execs[id] = e
	p.stats.Submitted++
	var out []finishedExec
	if depErr != nil {
		e.Error = depErr.Error()
		out = p.finishLocked(e, StateFailed, nil)
	} else {
		for dep := range e.waiting {
			p.dependents[dep] = append(p.dependents[dep], id)
		}
		p.queue.Put(Item{ID: id, Priority: cfg.Priority, SubmittedAt: now})
	}
	p.mu.Unlock()

	p.logger.Debug("task submitted",
		zap.String("execution_id", id),
		zap.String("task_id", cfg.ID),
		zap.String("priority", cfg.Priority.String()),
		zap.Int("dependencies", len(o.deps)))
	p.bus.Publish(events.TaskQueuedEvent{
		ID:        id,
		Name:      e.Name,
		Type:      string(cfg.Type),
		Priority:  cfg.Priority.String(),
		Timestamp: now,
	})
	p.afterFinish(out)
	return id, nil
}

// StartWorkflow submits the first step of a configured workflow.
func (p *Pool) StartWorkflow(name string) (string, error) {
	if p.workflows == nil {
		return "", fmt.Errorf("no workflows configured")
	}
	cfg, err := p.workflows.Start(name)
	if err != nil {
		return "", err
	}
	return p.Submit(cfg)
}

// Status returns a snapshot of the execution. Terminal snapshots are
// stable across calls until the record leaves the history.
func (p *Pool) Status(id string) (TaskExecution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.execs[id]
	if !ok {
		return TaskExecution{}, false
	}
	return e.snapshot(), true
}

// Cancel stops an execution. A queued execution is removed and never runs;
// a running one is signalled and settles at its next checkpoint.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	e, ok := p.execs[id]
	if !ok || e.State.Terminal() {
		p.mu.Unlock()
		return false
	}
	if e.State == StateQueued {
		p.queue.Remove(id)
		e.Error = task.ErrCancelled.Error()
		out := p.finishLocked(e, StateCancelled, nil)
		p.mu.Unlock()
		p.afterFinish(out)
		return true
	}
	tok := e.token
	p.mu.Unlock()

	tok.Cancel()
	p.logger.Info("cancellation requested", zap.String("execution_id", id))
	return true
}

// Pause asks a running execution to hold at its next checkpoint.
func (p *Pool) Pause(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.execs[id]
	if !ok || e.State != StateRunning {
		return false
	}
	e.State = StatePaused
	e.token.Pause()
	return true
}

// Resume releases a paused execution.
func (p *Pool) Resume(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.execs[id]
	if !ok || e.State != StatePaused {
		return false
	}
	e.State = StateRunning
	e.token.Resume()
	return true
}

// Run drives the dispatch loop until ctx ends, then cancels running
// executions and waits for them to settle.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.MaxConcurrentTasks),
		zap.Duration("tick", p.cfg.TickInterval))

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Start runs the dispatch loop in the background.
func (p *Pool) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.runDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancelRun = cancel
	p.runDone = done
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
}

// Stop ends a loop started with Start and waits for running executions,
// or until ctx ends.
func (p *Pool) Stop(ctx context.Context) error {
	p.runMu.Lock()
	cancel, done := p.cancelRun, p.runDone
	p.runMu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until nothing is queued or running, or ctx ends.
func (p *Pool) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if p.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Idle reports whether nothing is queued, occupying a worker or waiting
// to spawn a workflow follow-up.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settling > 0 || p.queue.Len() > 0 {
		return false
	}
	for _, w := range p.workers {
		if w.Busy {
			return false
		}
	}
	return true
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	var toks []*task.Token
	for _, w := range p.workers {
		if e := p.execs[w.CurrentTask]; w.Busy && e != nil && e.token != nil {
			toks = append(toks, e.token)
		}
	}
	p.mu.Unlock()

	for _, t := range toks {
		t.Cancel()
	}
	p.wg.Wait()
	p.reap()
	p.logger.Info("worker pool stopped")
}

// tick runs one scheduling round: admission and dispatch, reaping,
// timeout sweep.
func (p *Pool) tick(ctx context.Context) {
	p.dispatch(ctx)
	p.reap()
	p.sweep()
	p.publishProgress()
}

// dispatch fills idle workers. Executions with pending dependencies or
// busy resources go back to the tail of their level.
func (p *Pool) dispatch(ctx context.Context) int {
	if p.admission != nil {
		if ok, reason := p.admission.Allow(p.busyWorkers()); !ok {
			p.mu.Lock()
			p.stats.Vetoes++
			p.mu.Unlock()
			p.logger.Debug("dispatch withheld", zap.String("reason", reason))
			return 0
		}
	}

	var (
		started  []TaskExecution
		requeued []events.TaskRequeuedEvent
		skipped  []Item
	)

	p.mu.Lock()
	for {
		w := p.idleWorkerLocked()
		if w < 0 {
			break
		}
		item, ok := p.queue.Get()
		if !ok {
			break
		}
		e := p.execs[item.ID]
		if e == nil || e.State != StateQueued {
			continue
		}
		if len(e.waiting) > 0 {
			e.Requeues++
			p.stats.Requeued++
			skipped = append(skipped, item)
			requeued = append(requeued, events.TaskRequeuedEvent{ID: e.ID, WaitingOn: e.waitingOn(), Timestamp: time.Now()})
			continue
		}
		if !p.locks.TryLockAll(e.Resources) {
			e.Requeues++
			p.stats.Requeued++
			skipped = append(skipped, item)
			requeued = append(requeued, events.TaskRequeuedEvent{ID: e.ID, WaitingOn: e.Resources, Timestamp: time.Now()})
			continue
		}
		p.startLocked(ctx, e, w)
		started = append(started, e.snapshot())
	}
	for _, item := range skipped {
		p.queue.Put(item)
	}
	p.mu.Unlock()

	for _, ev := range requeued {
		p.bus.Publish(ev)
		if p.recorder != nil {
			p.recorder.Requeued()
		}
	}
	for _, s := range started {
		p.logger.Info("task dispatched",
			zap.String("execution_id", s.ID),
			zap.String("task_id", s.TaskID),
			zap.Int("worker", s.WorkerID),
			zap.String("priority", s.Priority.String()))
		p.bus.Publish(events.TaskStartedEvent{ID: s.ID, Name: s.Name, WorkerID: s.WorkerID, Timestamp: s.StartedAt})
		if p.recorder != nil {
			p.recorder.Dispatched(s.Priority.String())
		}
	}
	return len(started)
}

func (p *Pool) startLocked(ctx context.Context, e *execution, worker int) {
	runCtx, cancel := context.WithCancel(ctx)
	tok := task.NewToken(cancel)
	e.token = tok
	e.State = StateRunning
	e.StartedAt = time.Now()
	e.WorkerID = worker
	p.workers[worker].Busy = true
	p.workers[worker].CurrentTask = e.ID
	p.stats.Dispatched++

	id, cfg := e.ID, e.cfg
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.done <- finished{id: id, worker: worker, result: p.execute(runCtx, id, cfg, tok)}
	}()
}

// execute shields the pool from a runner that panics.
func (p *Pool) execute(ctx context.Context, id string, cfg task.TaskConfig, tok *task.Token) (res task.TerminalResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("runner panicked", zap.String("execution_id", id), zap.Any("panic", r))
			res = task.TerminalResult{
				TaskID:      cfg.ID,
				ExecutionID: id,
				Outcome:     task.OutcomeFailed,
				Elapsed:     time.Since(start),
				Err:         &task.PanicError{Value: r},
			}
		}
	}()
	return p.runner.Execute(ctx, id, cfg, tok)
}

// reap collects finished executions and frees their workers.
func (p *Pool) reap() {
	var out []finishedExec
	for {
		select {
		case f := <-p.done:
			out = p.reapOne(f, out)
		default:
			p.afterFinish(out)
			return
		}
	}
}

func (p *Pool) reapOne(f finished, out []finishedExec) []finishedExec {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := &p.workers[f.worker]
	w.Busy = false
	w.CurrentTask = ""
	w.Completed++
	w.ExecutionTime += f.result.Elapsed

	e, ok := p.execs[f.id]
	if !ok {
		return out
	}
	p.locks.UnlockAll(e.Resources)
	e.Attempts = f.result.Attempts
	e.Records = f.result.Records
	if !e.timedOut {
		e.Error = f.result.ErrorText()
	}

	state := stateFromOutcome(f.result.Outcome)
	if e.timedOut {
		state = StateTimeout
	}
	return p.finishLocked(e, state, out)
}

// sweep moves executions past MaxExecutionTime to Timeout and raises their
// stop flag. The snapshot is final from here on except for the attempt
// records filled in at reap; the worker stays busy until the body returns.
func (p *Pool) sweep() {
	if p.cfg.MaxExecutionTime <= 0 {
		return
	}
	now := time.Now()
	var stop []*task.Token

	p.mu.Lock()
	for _, w := range p.workers {
		if !w.Busy {
			continue
		}
		e := p.execs[w.CurrentTask]
		if e == nil || e.timedOut {
			continue
		}
		if now.Sub(e.StartedAt) <= p.cfg.MaxExecutionTime {
			continue
		}
		e.State = StateTimeout
		e.timedOut = true
		e.FinishedAt = now
		e.Error = fmt.Sprintf("execution exceeded time budget of %s", p.cfg.MaxExecutionTime)
		e.Progress = e.token.Progress()
		stop = append(stop, e.token)
		p.logger.Warn("execution exceeded time budget",
			zap.String("execution_id", e.ID),
			zap.Duration("elapsed", now.Sub(e.StartedAt)),
			zap.Duration("limit", p.cfg.MaxExecutionTime))
	}
	p.mu.Unlock()

	for _, t := range stop {
		t.Stop()
	}
}

// finishLocked moves e to a terminal state, records it in the history and
// resolves its dependents. Dependents of an execution that did not
// complete fail in turn.
func (p *Pool) finishLocked(e *execution, state State, out []finishedExec) []finishedExec {
	e.State = state
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if e.token != nil {
		if !e.timedOut {
			e.Progress = e.token.Progress()
		}
		e.token = nil
	}
	if state == StateCompleted {
		e.Progress = 1
	}
	switch state {
	case StateCompleted:
		p.stats.Completed++
	case StateFailed:
		p.stats.Failed++
	case StateCancelled:
		p.stats.Cancelled++
	case StateTimeout:
		p.stats.TimedOut++
	}
	p.history = append(p.history, e.ID)
	p.settling++
	out = append(out, finishedExec{snap: e.snapshot(), cfg: e.cfg})

	waiting := p.dependents[e.ID]
	delete(p.dependents, e.ID)
	for _, id := range waiting {
		d, ok := p.execs[id]
		if !ok || d.State != StateQueued {
			continue
		}
		delete(d.waiting, e.ID)
		if state == StateCompleted {
			continue
		}
		p.queue.Remove(id)
		d.Error = fmt.Errorf("%w: %s ended %s", task.ErrDependencyFailed, e.ID, state).Error()
		out = p.finishLocked(d, StateFailed, out)
	}

	for len(p.history) > p.cfg.HistorySize {
		delete(p.execs, p.history[0])
		p.history = p.history[1:]
	}
	return out
}

// afterFinish publishes, archives and spawns workflow follow-ups for
// terminal executions. Called without the lock held.
func (p *Pool) afterFinish(out []finishedExec) {
	for _, f := range out {
		s := f.snap
		fields := []zap.Field{
			zap.String("execution_id", s.ID),
			zap.String("task_id", s.TaskID),
			zap.String("state", s.State.String()),
			zap.Int("attempts", s.Attempts),
			zap.Duration("duration", s.Duration()),
		}
		if s.State == StateCompleted {
			p.logger.Info("task finished", fields...)
		} else {
			p.logger.Warn("task finished", append(fields, zap.String("error", s.Error))...)
		}

		p.bus.Publish(events.TaskFinishedEvent{
			ID:        s.ID,
			State:     s.State.String(),
			Attempts:  s.Attempts,
			Err:       s.Error,
			Duration:  s.Duration(),
			Timestamp: s.FinishedAt,
		})
		if p.recorder != nil {
			p.recorder.ExecutionFinished(string(s.Type), s.State.String(), s.Duration())
		}
		if p.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			if err := p.archive.SaveExecution(ctx, s); err != nil {
				p.logger.Warn("archiving execution failed", zap.String("execution_id", s.ID), zap.Error(err))
			}
			cancel()
		}
		if s.State == StateCompleted && p.workflows != nil {
			p.followUp(s.ID, f.cfg)
		}

		p.mu.Lock()
		p.settling--
		p.mu.Unlock()
	}
}

func (p *Pool) followUp(parentID string, cfg task.TaskConfig) {
	next, ok, err := p.workflows.OnTaskCompleted(cfg)
	if err != nil {
		p.logger.Warn("workflow follow-up failed", zap.String("execution_id", parentID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	id, err := p.Submit(next, WithDependencies(parentID))
	if err != nil {
		p.logger.Warn("submitting workflow follow-up failed", zap.String("task_id", next.ID), zap.Error(err))
		return
	}
	p.logger.Info("workflow follow-up queued",
		zap.String("workflow", next.MetaString(MetaWorkflow)),
		zap.String("execution_id", id),
		zap.String("task_id", next.ID))
}

func (p *Pool) publishProgress() {
	hist := p.queue.Histogram()
	p.mu.Lock()
	ev := events.QueueProgressEvent{
		Total:     len(p.execs),
		Completed: p.stats.Completed,
		Failed:    p.stats.Failed + p.stats.TimedOut,
		ByLevel:   hist,
	}
	for _, e := range p.execs {
		switch e.State {
		case StateQueued:
			ev.Queued++
		case StateRunning:
			ev.Running++
		case StatePaused:
			ev.Paused++
		}
	}
	changed := ev != p.lastProgress
	p.lastProgress = ev
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.QueueDepth(hist)
	}
	if changed {
		ev.Timestamp = time.Now()
		p.bus.Publish(ev)
	}
}

func (p *Pool) idleWorkerLocked() int {
	for i, w := range p.workers {
		if !w.Busy {
			return i
		}
	}
	return -1
}

func (p *Pool) busyWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.Busy {
			n++
		}
	}
	return n
}

// Stats returns counters and current state totals.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	for _, e := range p.execs {
		switch e.State {
		case StateQueued:
			s.Queued++
		case StateRunning:
			s.Running++
		case StatePaused:
			s.Paused++
		}
	}
	return s
}

// Workers returns a copy of the worker table.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkerInfo(nil), p.workers...)
}

// Executions returns snapshots of every known execution, oldest first.
func (p *Pool) Executions() []TaskExecution {
	p.mu.Lock()
	out := make([]TaskExecution, 0, len(p.execs))
	for _, e := range p.execs {
		out = append(out, e.snapshot())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// History returns terminal executions still held in memory, oldest first.
func (p *Pool) History() []TaskExecution {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TaskExecution, 0, len(p.history))
	for _, id := range p.history {
		if e, ok := p.execs[id]; ok {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// QueueLen returns the number of queued executions.
func (p *Pool) QueueLen() int {
	return p.queue.Len()
}

// PriorityBoostThreshold returns the configured aging threshold. Queued
// executions are not currently promoted.
func (p *Pool) PriorityBoostThreshold() time.Duration {
	return p.cfg.PriorityBoostThreshold
}
