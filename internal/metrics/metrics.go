// Package metrics exposes the Prometheus collectors the core increments:
// job admission, build/run outcomes, compile failures, evictions, and
// per-environment benchmark runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every Prometheus collector registered by this process.
type Metrics struct {
	JobsAdmittedTotal prometheus.Counter
	JobsQueueDepth    prometheus.Gauge

	BuildsTotal     *prometheus.CounterVec
	BuildDuration   *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec

	CompileFailuresTotal *prometheus.CounterVec
	EvictionsTotal       prometheus.Counter

	BenchmarkRunsTotal *prometheus.CounterVec
}

// Get returns the singleton Metrics instance, creating and registering it
// on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.JobsAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "jobs",
		Name:      "admitted_total",
		Help:      "Total number of jobs admitted through the job semaphore",
	})

	m.JobsQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandkasten",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Number of jobs currently waiting for a semaphore permit",
	})

	m.BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "build",
		Name:      "total",
		Help:      "Total number of build requests by cache outcome",
	}, []string{"cached"})

	m.BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sandkasten",
		Subsystem: "build",
		Name:      "duration_seconds",
		Help:      "Build orchestrator duration in seconds",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"environment"})

	m.RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "run",
		Name:      "total",
		Help:      "Total number of run requests by exit status bucket",
	}, []string{"status"})

	m.RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sandkasten",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Run orchestrator duration in seconds",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"environment"})

	m.CompileFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "build",
		Name:      "compile_failures_total",
		Help:      "Total number of non-zero-exit compile steps by environment",
	}, []string{"environment"})

	m.EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "eviction",
		Name:      "total",
		Help:      "Total number of program directories removed by the eviction loop",
	})

	m.BenchmarkRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandkasten",
		Subsystem: "benchmark",
		Name:      "runs_total",
		Help:      "Total number of benchmark test-program runs by environment",
	}, []string{"environment"})

	return m
}

// RecordBuild records a completed build's cache outcome and duration.
func (m *Metrics) RecordBuild(environment string, cached bool, duration time.Duration) {
	label := "false"
	if cached {
		label = "true"
	}
	m.BuildsTotal.WithLabelValues(label).Inc()
	m.BuildDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// RecordRun records a completed run's status bucket and duration.
func (m *Metrics) RecordRun(environment, statusBucket string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(statusBucket).Inc()
	m.RunDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// RecordCompileFailure increments the compile-failure counter for environment.
func (m *Metrics) RecordCompileFailure(environment string) {
	m.CompileFailuresTotal.WithLabelValues(environment).Inc()
}

// RecordEviction increments the eviction counter.
func (m *Metrics) RecordEviction() {
	m.EvictionsTotal.Inc()
}

// RecordBenchmarkRun increments the benchmark-run counter for environment.
func (m *Metrics) RecordBenchmarkRun(environment string) {
	m.BenchmarkRunsTotal.WithLabelValues(environment).Inc()
}
