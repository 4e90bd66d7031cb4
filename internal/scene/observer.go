// Package scene tracks the label of the monitored target as an explicit
// finite-state machine. A sampled label only becomes the current state
// after it has been seen on StabilityThreshold consecutive samples.
package scene

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/events"
)

// MaxDegradeLevel caps how far the poll interval can be stretched.
const MaxDegradeLevel = 3

// Config controls sampling and debouncing.
type Config struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	StabilityThreshold int           `yaml:"stability_threshold"`
	HistorySize        int           `yaml:"history_size"`
}

// DefaultConfig returns the observer defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       250 * time.Millisecond,
		StabilityThreshold: 3,
		HistorySize:        64,
	}
}

// SceneState is the confirmed state of the target.
type SceneState struct {
	Label     string
	EnteredAt time.Time
	Duration  time.Duration
	Stability float64 // Fraction of samples in this state that agreed with it
}

// Transition is a confirmed change between two labels.
type Transition struct {
	From       string
	To         string
	At         time.Time
	Confidence float64
}

// Listener is notified after each confirmed transition.
type Listener func(Transition)

// Observer polls a detector and debounces its labels into transitions.
type Observer struct {
	detector device.Detector
	cfg      Config
	bus      *events.Bus
	logger   *zap.Logger

	mu        sync.RWMutex
	current   string
	enteredAt time.Time
	samples   int // Samples taken since entering current
	agreeing  int // Of those, samples equal to current
	candidate string
	streak    int // Consecutive samples equal to candidate
	pending   int // Samples since the last agreeing sample
	history   []Transition
	head      int
	full      bool
	listeners []Listener
	errors    int
	degrade   int
}

// NewObserver creates an observer starting in the unknown scene.
func NewObserver(detector device.Detector, cfg Config, bus *events.Bus, logger *zap.Logger) *Observer {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = def.StabilityThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		detector:  detector,
		cfg:       cfg,
		bus:       bus,
		logger:    logger.With(zap.String("component", "scene_observer")),
		current:   device.SceneUnknown,
		enteredAt: time.Now(),
		history:   make([]Transition, cfg.HistorySize),
	}
}

// OnTransition registers a listener. Listeners run on the sampling goroutine.
func (o *Observer) OnTransition(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Run samples until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			o.Sample(ctx)
			timer.Reset(o.Interval())
		}
	}
}

// Sample takes one detector reading. Detector errors are counted and skipped.
func (o *Observer) Sample(ctx context.Context) {
	label, err := o.detector.DetectScene(ctx)
	if err != nil {
		o.mu.Lock()
		o.errors++
		o.mu.Unlock()
		if ctx.Err() == nil {
			o.logger.Debug("scene detection failed", zap.Error(err))
		}
		return
	}
	o.Observe(label, time.Now())
}

// Observe feeds one label into the state machine.
func (o *Observer) Observe(label string, at time.Time) {
	if label == "" {
		label = device.SceneUnknown
	}

	o.mu.Lock()
	o.samples++
	if label == o.current {
		o.agreeing++
		o.candidate = ""
		o.streak = 0
		o.pending = 0
		o.mu.Unlock()
		return
	}

	o.pending++
	if label == o.candidate {
		o.streak++
	} else {
		o.candidate = label
		o.streak = 1
	}
	if o.streak < o.cfg.StabilityThreshold {
		o.mu.Unlock()
		return
	}

	tr := Transition{
		From:       o.current,
		To:         label,
		At:         at,
		Confidence: float64(o.streak) / float64(o.pending),
	}
	o.current = label
	o.enteredAt = at
	o.samples = o.streak
	o.agreeing = o.streak
	o.candidate = ""
	o.streak = 0
	o.pending = 0
	o.record(tr)
	listeners := append([]Listener(nil), o.listeners...)
	o.mu.Unlock()

	o.logger.Info("scene changed",
		zap.String("from", tr.From),
		zap.String("to", tr.To),
		zap.Float64("confidence", tr.Confidence))
	o.bus.Publish(events.SceneChangedEvent{
		From:       tr.From,
		To:         tr.To,
		Confidence: tr.Confidence,
		Timestamp:  tr.At,
	})
	for _, l := range listeners {
		l(tr)
	}
}

// record must be called with o.mu held.
func (o *Observer) record(tr Transition) {
	o.history[o.head] = tr
	o.head = (o.head + 1) % len(o.history)
	if o.head == 0 {
		o.full = true
	}
}

// Current returns the confirmed state.
func (o *Observer) Current() SceneState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stability := 1.0
	if o.samples > 0 {
		stability = float64(o.agreeing) / float64(o.samples)
	}
	return SceneState{
		Label:     o.current,
		EnteredAt: o.enteredAt,
		Duration:  time.Since(o.enteredAt),
		Stability: stability,
	}
}

// Label returns the confirmed scene label.
func (o *Observer) Label() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// StableFor returns how long the confirmed state has held without a
// competing candidate. It is zero while a different label is being seen.
func (o *Observer) StableFor() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pending > 0 {
		return 0
	}
	return time.Since(o.enteredAt)
}

// History returns the recorded transitions, oldest first.
func (o *Observer) History() []Transition {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.full {
		return append([]Transition(nil), o.history[:o.head]...)
	}
	out := make([]Transition, 0, len(o.history))
	out = append(out, o.history[o.head:]...)
	out = append(out, o.history[:o.head]...)
	return out
}

// Errors returns how many detector errors were skipped.
func (o *Observer) Errors() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.errors
}

// Degrade sets the degradation level reported by the resource governor.
// Each level doubles the poll interval.
func (o *Observer) Degrade(level int) {
	if level < 0 {
		level = 0
	}
	if level > MaxDegradeLevel {
		level = MaxDegradeLevel
	}
	o.mu.Lock()
	changed := o.degrade != level
	o.degrade = level
	o.mu.Unlock()

	if changed {
		o.logger.Info("poll interval adjusted",
			zap.Int("level", level),
			zap.Duration("interval", o.Interval()))
	}
}

// Interval returns the effective poll interval.
func (o *Observer) Interval() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.PollInterval << o.degrade
}
