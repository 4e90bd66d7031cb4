// Package governor decides whether the scheduler may dispatch more work
// given host load and the number of running tasks.
package governor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/events"
)

// MaxLevel is the highest degradation level.
const MaxLevel = 3

// Veto reasons.
const (
	ReasonCPU         = "cpu"
	ReasonMemory      = "memory"
	ReasonConcurrency = "concurrency"
)

// Tunable components trade accuracy for cost when the governor degrades.
type Tunable interface {
	Degrade(level int)
}

// Recorder receives governor telemetry.
type Recorder interface {
	Backpressure(reason string)
	ResourceSample(cpuPercent, memoryPercent float64)
	DegradeLevel(level int)
}

// Config holds admission thresholds.
type Config struct {
	MaxCPUUsage        float64 `yaml:"max_cpu_usage"`    // Percent
	MaxMemoryUsage     float64 `yaml:"max_memory_usage"` // Percent
	MaxConcurrentTasks int     `yaml:"max_concurrent_tasks"`
	DegradeAfter       int     `yaml:"degrade_after"` // Consecutive load vetoes before degrading
	RecoverAfter       int     `yaml:"recover_after"` // Consecutive healthy samples before easing
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{
		MaxCPUUsage:        80,
		MaxMemoryUsage:     85,
		MaxConcurrentTasks: 3,
		DegradeAfter:       10,
		RecoverAfter:       20,
	}
}

// Governor vetoes dispatch when the host is loaded. It never cancels
// running work.
type Governor struct {
	sampler  Sampler
	cfg      Config
	bus      *events.Bus
	recorder Recorder
	logger   *zap.Logger

	mu            sync.Mutex
	last          Sample
	loadStreak    int
	healthyStreak int
	level         int
	tunables      []Tunable
	vetoes        map[string]int
}

// New creates a governor.
func New(sampler Sampler, cfg Config, bus *events.Bus, recorder Recorder, logger *zap.Logger) *Governor {
	def := DefaultConfig()
	if cfg.MaxCPUUsage <= 0 {
		cfg.MaxCPUUsage = def.MaxCPUUsage
	}
	if cfg.MaxMemoryUsage <= 0 {
		cfg.MaxMemoryUsage = def.MaxMemoryUsage
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.DegradeAfter <= 0 {
		cfg.DegradeAfter = def.DegradeAfter
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = def.RecoverAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		sampler:  sampler,
		cfg:      cfg,
		bus:      bus,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "governor")),
		vetoes:   make(map[string]int),
	}
}

// Register adds a component to notify on degradation changes.
func (g *Governor) Register(t Tunable) {
	g.mu.Lock()
	g.tunables = append(g.tunables, t)
	level := g.level
	g.mu.Unlock()
	t.Degrade(level)
}

// Allow samples load and reports whether one more task may start while
// active tasks are running. The reason is empty when allowed.
func (g *Governor) Allow(active int) (bool, string) {
	s := g.sample()

	reason := ""
	switch {
	case s.CPUPercent > g.cfg.MaxCPUUsage:
		reason = ReasonCPU
	case s.MemoryPercent > g.cfg.MaxMemoryUsage:
		reason = ReasonMemory
	case active >= g.cfg.MaxConcurrentTasks:
		reason = ReasonConcurrency
	}

	g.adjust(reason == ReasonCPU || reason == ReasonMemory)
	if reason == "" {
		return true, ""
	}

	g.mu.Lock()
	g.vetoes[reason]++
	level := g.level
	g.mu.Unlock()

	// Concurrency vetoes are routine at full load and not worth an event.
	if reason != ReasonConcurrency {
		g.logger.Debug("dispatch withheld",
			zap.String("reason", reason),
			zap.Float64("cpu_percent", s.CPUPercent),
			zap.Float64("memory_percent", s.MemoryPercent),
			zap.Int("active", active))
		g.bus.Publish(events.BackpressureEvent{
			Reason:        reason,
			CPUPercent:    s.CPUPercent,
			MemoryPercent: s.MemoryPercent,
			Active:        active,
			Level:         level,
			Timestamp:     s.At,
		})
	}
	if g.recorder != nil {
		g.recorder.Backpressure(reason)
	}
	return false, fmt.Sprintf("%s (cpu %.1f%%, memory %.1f%%, active %d)", reason, s.CPUPercent, s.MemoryPercent, active)
}

// Healthy reports whether a fresh sample is within both load thresholds.
func (g *Governor) Healthy() bool {
	s := g.sample()
	return s.CPUPercent <= g.cfg.MaxCPUUsage && s.MemoryPercent <= g.cfg.MaxMemoryUsage
}

func (g *Governor) sample() Sample {
	s, err := g.sampler.Sample()
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.logger.Debug("load sample failed, reusing last", zap.Error(err))
		return g.last
	}
	g.last = s
	if g.recorder != nil {
		g.recorder.ResourceSample(s.CPUPercent, s.MemoryPercent)
	}
	return s
}

// adjust moves the degradation level after each sample.
func (g *Governor) adjust(overloaded bool) {
	g.mu.Lock()
	prev := g.level
	if overloaded {
		g.healthyStreak = 0
		g.loadStreak++
		if g.loadStreak >= g.cfg.DegradeAfter && g.level < MaxLevel {
			g.level++
			g.loadStreak = 0
		}
	} else {
		g.loadStreak = 0
		g.healthyStreak++
		if g.healthyStreak >= g.cfg.RecoverAfter && g.level > 0 {
			g.level--
			g.healthyStreak = 0
		}
	}
	level := g.level
	tunables := append([]Tunable(nil), g.tunables...)
	g.mu.Unlock()

	if level == prev {
		return
	}
	g.logger.Info("degradation level changed", zap.Int("from", prev), zap.Int("to", level))
	if g.recorder != nil {
		g.recorder.DegradeLevel(level)
	}
	for _, t := range tunables {
		t.Degrade(level)
	}
}

// Level returns the current degradation level.
func (g *Governor) Level() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Last returns the most recent successful sample.
func (g *Governor) Last() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Vetoes returns veto counts per reason.
func (g *Governor) Vetoes() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.vetoes))
	for k, v := range g.vetoes {
		out[k] = v
	}
	return out
}

// Config returns the effective thresholds.
func (g *Governor) Config() Config {
	return g.cfg
}
