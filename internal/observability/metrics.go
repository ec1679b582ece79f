package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Darasa.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Token pipeline metrics.
	RegistrationsTotal *prometheus.CounterVec
	PipelineTotal      *prometheus.CounterVec

	// Upstream call metrics (vault, moodle).
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Audit trail metrics.
	AuditWritesTotal *prometheus.CounterVec

	// Upstream reachability probe (1 = reachable, 0 = unreachable).
	ProbeUp *prometheus.GaugeVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa",
			Subsystem: "token",
			Name:      "registrations_total",
			Help:      "Total token registration attempts.",
		}, []string{"outcome"}),

		PipelineTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa",
			Subsystem: "pipeline",
			Name:      "operations_total",
			Help:      "Total pipeline operations by outcome.",
		}, []string{"operation", "outcome"}),

		UpstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total requests to upstream services.",
		}, []string{"service", "status"}),

		UpstreamRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "darasa",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"service"}),

		AuditWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa",
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Total audit trail writes.",
		}, []string{"status"}),

		ProbeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "darasa",
			Subsystem: "probe",
			Name:      "up",
			Help:      "Upstream reachability (1 = reachable, 0 = unreachable).",
		}, []string{"target"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darasa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "darasa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "darasa",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.RegistrationsTotal,
		m.PipelineTotal,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.AuditWritesTotal,
		m.ProbeUp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordPipeline increments the pipeline outcome counter. Nil-safe.
func (m *MetricsCollector) RecordPipeline(operation, outcome string) {
	if m == nil {
		return
	}
	m.PipelineTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordUpstream records an upstream call. Nil-safe.
func (m *MetricsCollector) RecordUpstream(service, status string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(service, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(service).Observe(seconds)
}
