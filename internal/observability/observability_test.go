package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/darasa/internal/config"
	"github.com/jkaninda/darasa/internal/storage"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestNewTracerSetup_Disabled(t *testing.T) {
	setup, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewTracerSetup: %v", err)
	}
	if setup != nil {
		t.Error("expected nil setup when tracing is disabled")
	}
}

func TestNewTracerSetup_UnknownProtocol(t *testing.T) {
	_, err := NewTracerSetup(&config.TracingConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Protocol: "udp",
	})
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
	if !strings.Contains(err.Error(), "udp") {
		t.Errorf("error %q does not name the bad protocol", err)
	}
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize some metrics so they appear in Gather (vectors only appear after first use).
	m.RegistrationsTotal.WithLabelValues("registered").Inc()
	m.PipelineTotal.WithLabelValues("register", "ok").Inc()
	m.UpstreamRequestsTotal.WithLabelValues("vault", "200").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	m.ProbeUp.WithLabelValues("moodle").Set(1)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"darasa_token_registrations_total",
		"darasa_pipeline_operations_total",
		"darasa_upstream_requests_total",
		"darasa_http_requests_total",
		"darasa_probe_up",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordPipeline("register", "ok")
	m.RecordPipeline("register", "ok")
	m.RecordPipeline("register", "rejected_live")
	m.RecordUpstream("moodle", "200", 0.05)

	val := counterValue(t, m.Registry, "darasa_pipeline_operations_total", prometheus.Labels{"operation": "register", "outcome": "ok"})
	if val != 2 {
		t.Errorf("ok count = %v, want 2", val)
	}
	val = counterValue(t, m.Registry, "darasa_pipeline_operations_total", prometheus.Labels{"operation": "register", "outcome": "rejected_live"})
	if val != 1 {
		t.Errorf("rejected count = %v, want 1", val)
	}
	val = counterValue(t, m.Registry, "darasa_upstream_requests_total", prometheus.Labels{"service": "moodle", "status": "200"})
	if val != 1 {
		t.Errorf("upstream count = %v, want 1", val)
	}
}

func TestMetricsCollector_NilSafe(t *testing.T) {
	// Recording on a nil collector must not panic.
	var m *MetricsCollector
	m.RecordPipeline("register", "ok")
	m.RecordUpstream("vault", "500", 0.1)
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck(CheckAuditDB, func(ctx context.Context) error { return nil })
	h.AddCheck(CheckVault, func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks[CheckAuditDB].Status != "ok" {
		t.Errorf("audit_db check = %q, want ok", status.Checks[CheckAuditDB].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck(CheckAuditDB, func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck(CheckVault, func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks[CheckAuditDB].Status != "fail" {
		t.Errorf("audit_db check = %q, want fail", status.Checks[CheckAuditDB].Status)
	}
	if status.Checks[CheckVault].Status != "ok" {
		t.Errorf("vault check = %q, want ok", status.Checks[CheckVault].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- InstrumentedAuditStore (wrapper) ---

type mockAuditStore struct {
	appendErr error
	appended  []storage.RegistrationEvent
}

func (m *mockAuditStore) Append(_ context.Context, event storage.RegistrationEvent) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, event)
	return nil
}

func (m *mockAuditStore) Recent(_ context.Context, _ string, _ int) ([]storage.RegistrationEvent, error) {
	return m.appended, nil
}

func (m *mockAuditStore) Migrate(context.Context) error { return nil }
func (m *mockAuditStore) Ping(context.Context) error    { return nil }
func (m *mockAuditStore) Close() error                  { return nil }
func (m *mockAuditStore) Driver() string                { return "mock" }

func TestInstrumentedAuditStore_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockAuditStore{}

	s := NewInstrumentedAuditStore(inner, metrics, nil)
	err := s.Append(context.Background(), storage.RegistrationEvent{
		IdentityDigest: storage.IdentityDigest("entity-1"),
		Outcome:        storage.OutcomeRegistered,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.appended) != 1 {
		t.Fatalf("inner appended %d events, want 1", len(inner.appended))
	}

	val := counterValue(t, metrics.Registry, "darasa_audit_writes_total", prometheus.Labels{"status": "ok"})
	if val != 1 {
		t.Errorf("audit writes = %v, want 1", val)
	}
}

func TestInstrumentedAuditStore_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockAuditStore{appendErr: errors.New("disk full")}

	s := NewInstrumentedAuditStore(inner, metrics, nil)
	err := s.Append(context.Background(), storage.RegistrationEvent{Outcome: storage.OutcomeLookup})
	if err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "darasa_audit_writes_total", prometheus.Labels{"status": "error"})
	if val != 1 {
		t.Errorf("error audit writes = %v, want 1", val)
	}
}

func TestInstrumentedAuditStore_NilMetrics(t *testing.T) {
	inner := &mockAuditStore{}

	// nil metrics — should not panic.
	s := NewInstrumentedAuditStore(inner, nil, nil)
	if err := s.Append(context.Background(), storage.RegistrationEvent{Outcome: storage.OutcomeLookup}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "darasa_http_requests_total", prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_ErrorStatus(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := counterValue(t, metrics.Registry, "darasa_http_requests_total", prometheus.Labels{"method": "GET", "path": "/missing", "status_code": "404"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_RouteLabel(t *testing.T) {
	metrics := NewMetricsCollector()

	route := func(r *http.Request) string { return "/courses/{id}/content" }
	handler := HTTPMetricsMiddleware(metrics, nil, route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, target := range []string{"/courses/7/content", "/courses/8/content"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	}

	val := counterValue(t, metrics.Registry, "darasa_http_requests_total", prometheus.Labels{"method": "GET", "path": "/courses/{id}/content", "status_code": "200"})
	if val != 2 {
		t.Errorf("pattern-labeled requests = %v, want 2", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
