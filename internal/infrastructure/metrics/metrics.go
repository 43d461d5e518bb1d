// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds metrics configuration
type Config struct {
	Enabled         bool
	Namespace       string
	DurationBuckets []float64
}

// Metrics provides Prometheus metrics for runs and transitions.
// A disabled instance is a safe no-op.
type Metrics struct {
	config Config

	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runFaults     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runIterations *prometheus.HistogramVec

	transitions         *prometheus.CounterVec
	fallbacks           *prometheus.CounterVec
	instructionFailures *prometheus.CounterVec

	activeRuns prometheus.Gauge
	queuedRuns prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "agentmst"
	}
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"scenario"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of runs finished",
			},
			[]string{"scenario", "status"},
		),
		runFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_faults_total",
				Help:      "Total number of faulted runs by reason",
			},
			[]string{"scenario", "reason"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"scenario", "status"},
		),
		runIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_iterations",
				Help:      "Loop iterations per run",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"scenario"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of applied transitions",
			},
			[]string{"policy", "source"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback resolutions",
			},
			[]string{"policy"},
		),
		instructionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instruction_failures_total",
				Help:      "Total number of isolated instruction action failures",
			},
			[]string{"scenario"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of executing runs",
			},
		),
		queuedRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_runs",
				Help:      "Current number of queued run requests",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runFaults,
		m.runDuration,
		m.runIterations,
		m.transitions,
		m.fallbacks,
		m.instructionFailures,
		m.activeRuns,
		m.queuedRuns,
	)

	return m
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(scenario string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(scenario).Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished records a finished run with its status and duration.
func (m *Metrics) RecordRunFinished(scenario, status string, duration time.Duration, iterations int) {
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.WithLabelValues(scenario, status).Inc()
	m.runDuration.WithLabelValues(scenario, status).Observe(duration.Seconds())
	m.runIterations.WithLabelValues(scenario).Observe(float64(iterations))
	m.activeRuns.Dec()
}

// RecordRunFault records a faulted run by its fault reason.
func (m *Metrics) RecordRunFault(scenario, reason string) {
	if m.runFaults == nil {
		return
	}
	m.runFaults.WithLabelValues(scenario, reason).Inc()
}

// RecordTransition records one applied transition.
func (m *Metrics) RecordTransition(policy, source string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(policy, source).Inc()
}

// RecordFallback records one fallback resolution.
func (m *Metrics) RecordFallback(policy string) {
	if m.fallbacks == nil {
		return
	}
	m.fallbacks.WithLabelValues(policy).Inc()
}

// RecordInstructionFailure records one isolated instruction action failure.
func (m *Metrics) RecordInstructionFailure(scenario string) {
	if m.instructionFailures == nil {
		return
	}
	m.instructionFailures.WithLabelValues(scenario).Inc()
}

// SetQueuedRuns sets the current number of queued run requests.
func (m *Metrics) SetQueuedRuns(count float64) {
	if m.queuedRuns == nil {
		return
	}
	m.queuedRuns.Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
