// Package metrics exposes scheduler, engine, governor and scene telemetry
// as prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aristath/scenepilot/internal/scene"
	"github.com/aristath/scenepilot/internal/task"
)

// Collector records telemetry. It implements the Recorder interfaces of
// the scheduler, engine and governor packages.
type Collector struct {
	registry *prometheus.Registry

	// Scheduler
	dispatched        *prometheus.CounterVec
	requeued          prometheus.Counter
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec

	// Engine and recovery
	attemptFailures *prometheus.CounterVec
	recoveries      *prometheus.CounterVec

	// Governor
	backpressure  *prometheus.CounterVec
	cpuPercent    prometheus.Gauge
	memoryPercent prometheus.Gauge
	degradeLevel  prometheus.Gauge

	// Scene
	sceneTransitions *prometheus.CounterVec
	sceneConfidence  prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.dispatched = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Executions handed to a worker",
		},
		[]string{"priority"},
	)

	c.requeued = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_requeued_total",
		Help:      "Executions put back because a dependency or resource was not ready",
	})

	c.executionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Executions that reached a terminal state",
		},
		[]string{"type", "state"},
	)

	c.executionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Wall-clock time from dispatch to terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"type"},
	)

	c.queueDepth = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queued executions per priority level",
		},
		[]string{"priority"},
	)

	c.attemptFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_failures_total",
			Help:      "Failed attempts by classified error kind",
		},
		[]string{"type", "kind"},
	)

	c.recoveries = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery runs by error kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: recovered, failed, skipped
	)

	c.backpressure = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_total",
			Help:      "Dispatch rounds withheld by the governor",
		},
		[]string{"reason"},
	)

	c.cpuPercent = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_percent",
		Help:      "Last sampled CPU usage",
	})

	c.memoryPercent = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_memory_percent",
		Help:      "Last sampled memory usage",
	})

	c.degradeLevel = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "degrade_level",
		Help:      "Current governor degradation level",
	})

	c.sceneTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scene_transitions_total",
			Help:      "Confirmed scene transitions",
		},
		[]string{"from", "to"},
	)

	c.sceneConfidence = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scene_transition_confidence",
		Help:      "Confidence of confirmed scene transitions",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(c.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Dispatched implements scheduler.Recorder.
func (c *Collector) Dispatched(priority string) {
	c.dispatched.WithLabelValues(priority).Inc()
}

// Requeued implements scheduler.Recorder.
func (c *Collector) Requeued() {
	c.requeued.Inc()
}

// ExecutionFinished implements scheduler.Recorder.
func (c *Collector) ExecutionFinished(taskType, state string, d time.Duration) {
	c.executionsTotal.WithLabelValues(taskType, state).Inc()
	c.executionDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// QueueDepth implements scheduler.Recorder.
func (c *Collector) QueueDepth(byLevel [task.NumPriorities]int) {
	for lvl, n := range byLevel {
		c.queueDepth.WithLabelValues(task.Priority(lvl).String()).Set(float64(n))
	}
}

// AttemptFailed implements engine.Recorder.
func (c *Collector) AttemptFailed(taskType task.TaskType, kind string) {
	c.attemptFailures.WithLabelValues(string(taskType), kind).Inc()
}

// RecoveryFinished implements engine.Recorder.
func (c *Collector) RecoveryFinished(kind string, recovered, skipped bool) {
	outcome := "failed"
	switch {
	case skipped:
		outcome = "skipped"
	case recovered:
		outcome = "recovered"
	}
	c.recoveries.WithLabelValues(kind, outcome).Inc()
}

// Backpressure implements governor.Recorder.
func (c *Collector) Backpressure(reason string) {
	c.backpressure.WithLabelValues(reason).Inc()
}

// ResourceSample implements governor.Recorder.
func (c *Collector) ResourceSample(cpuPercent, memoryPercent float64) {
	c.cpuPercent.Set(cpuPercent)
	c.memoryPercent.Set(memoryPercent)
}

// DegradeLevel implements governor.Recorder.
func (c *Collector) DegradeLevel(level int) {
	c.degradeLevel.Set(float64(level))
	c.logger.Debug("degrade level recorded", zap.Int("level", level))
}

// SceneTransition records a confirmed transition. Register it with
// scene.Observer.OnTransition.
func (c *Collector) SceneTransition(tr scene.Transition) {
	c.sceneTransitions.WithLabelValues(tr.From, tr.To).Inc()
	c.sceneConfidence.Observe(tr.Confidence)
}
