package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the reconciliation and
// materialization engine. A nil or disabled Metrics records nothing; every
// method is safe on the zero value.
type Metrics struct {
	registry *prometheus.Registry

	appliesTotal  *prometheus.CounterVec
	applyDuration prometheus.Histogram
	diffObjects   *prometheus.CounterVec

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	intervalsTotal prometheus.Counter
	errorsByKind   *prometheus.CounterVec
	activeJobs     prometheus.Gauge
}

// NewMetrics creates a metrics collector. A disabled config returns a no-op
// instance.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "featherstore"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		appliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_total",
				Help:      "Total number of apply calls",
			},
			[]string{"status"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		diffObjects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diff_objects_total",
				Help:      "Registry objects classified by the diff engine",
			},
			[]string{"action"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "materialization_jobs_total",
				Help:      "Total number of resolved materialization jobs",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "materialization_job_duration_seconds",
				Help:      "Wall time from dispatch to resolution per job",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"status"},
		),
		intervalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "materialization_intervals_recorded_total",
				Help:      "Total number of materialization intervals committed",
			},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Engine errors by classification",
			},
			[]string{"kind"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_materialization_jobs",
				Help:      "Materialization jobs currently awaiting resolution",
			},
		),
	}

	registry.MustRegister(
		m.appliesTotal, m.applyDuration, m.diffObjects,
		m.jobsTotal, m.jobDuration, m.intervalsTotal,
		m.errorsByKind, m.activeJobs,
	)
	return m
}

// RecordApply records one finished apply call.
func (m *Metrics) RecordApply(status string, d time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.appliesTotal.WithLabelValues(status).Inc()
	m.applyDuration.Observe(d.Seconds())
}

// RecordDiff records a diff engine classification.
func (m *Metrics) RecordDiff(toApply, toDelete, unchanged int) {
	if m == nil || m.registry == nil {
		return
	}
	m.diffObjects.WithLabelValues("apply").Add(float64(toApply))
	m.diffObjects.WithLabelValues("delete").Add(float64(toDelete))
	m.diffObjects.WithLabelValues("unchanged").Add(float64(unchanged))
}

// RecordJob records one resolved materialization job.
func (m *Metrics) RecordJob(status string, d time.Duration) {
	if m == nil || m.registry == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordInterval records one committed materialization interval.
func (m *Metrics) RecordInterval() {
	if m == nil || m.registry == nil {
		return
	}
	m.intervalsTotal.Inc()
}

// RecordErrorKind records one classified engine error.
func (m *Metrics) RecordErrorKind(kind string) {
	if m == nil || m.registry == nil || kind == "" {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// IncActiveJobs marks one job as awaiting resolution.
func (m *Metrics) IncActiveJobs() {
	if m == nil || m.registry == nil {
		return
	}
	m.activeJobs.Inc()
}

// DecActiveJobs marks one job as resolved.
func (m *Metrics) DecActiveJobs() {
	if m == nil || m.registry == nil {
		return
	}
	m.activeJobs.Dec()
}

// Handler returns the Prometheus scrape handler, or nil when metrics are
// disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
