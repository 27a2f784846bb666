package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns the Prometheus collectors for battery level runs.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Run metrics
	runs           prometheus.Counter
	runDuration    prometheus.Histogram
	sequenceLength prometheus.Histogram

	// Level metrics
	finalLevel prometheus.Histogram
	lastLevel  prometheus.Gauge

	// Event metrics
	events    *prometheus.CounterVec
	limitHits *prometheus.CounterVec
}

// Level histogram buckets: one per ten percentage points.
var levelBuckets = prometheus.LinearBuckets(0, 10, 11) //nolint:gochecknoglobals // fixed bucket layout

// Sequence length histogram buckets.
var lengthBuckets = prometheus.ExponentialBuckets(1, 4, 8) //nolint:gochecknoglobals // fixed bucket layout

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Global metrics manager instance.
var globalManager = NewManager(WithPrometheusRegistry(customRegistry)) //nolint:gochecknoglobals // singleton default manager

// NewManager creates a new metrics manager and registers its collectors.
// A disabled manager registers nothing and ignores every record call.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "battery",
		subsystem:        "level",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.enabled {
		m.initializeMetrics()
	}

	return m
}

// register adds c to reg. When an identical collector is already registered,
// the existing one is returned so managers sharing a registry share counts.
// Any other registration error panics, as promauto does.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	reg := m.registry

	m.runs = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Total number of event sequences processed",
	}))

	m.runDuration = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_milliseconds",
		Help:      "Time spent folding one event sequence, in milliseconds",
		Buckets:   m.histogramBuckets,
	}))

	m.sequenceLength = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sequence_length",
		Help:      "Number of events per processed sequence",
		Buckets:   lengthBuckets,
	}))

	m.finalLevel = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "final_level",
		Help:      "Distribution of final battery levels",
		Buckets:   levelBuckets,
	}))

	m.lastLevel = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_level",
		Help:      "Final battery level of the most recent run",
	}))

	m.events = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_total",
			Help:      "Total number of events applied, by kind",
		},
		[]string{"kind"},
	))

	m.limitHits = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "limit_hits_total",
			Help:      "Total number of steps clamped to a bound, by limit",
		},
		[]string{"limit"},
	))
}

// Enabled reports whether the manager records anything.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// RecordRun records a finished run: its length, final level and duration.
func (m *Manager) RecordRun(length, level int, durationMs float64) {
	if !m.Enabled() {
		return
	}
	m.runs.Inc()
	m.sequenceLength.Observe(float64(length))
	m.finalLevel.Observe(float64(level))
	m.lastLevel.Set(float64(level))
	m.runDuration.Observe(durationMs)
}

// RecordEvent increments the event counter for kind.
func (m *Manager) RecordEvent(kind string) {
	if !m.Enabled() {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordLimitHit increments the clamp counter for limit.
func (m *Manager) RecordLimitHit(limit string) {
	if !m.Enabled() {
		return
	}
	m.limitHits.WithLabelValues(limit).Inc()
}

// Default returns the process-wide manager bound to GetRegistry.
func Default() *Manager {
	return globalManager
}

// GetRegistry returns the custom Prometheus registry used by the default manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
