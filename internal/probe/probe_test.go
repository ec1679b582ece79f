package probe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jkaninda/darasa/internal/config"
	"github.com/jkaninda/darasa/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProbeReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even an auth failure means the host is up.
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := New(&config.ProbeConfig{}, []Target{{Name: "vault", URL: srv.URL}}, nil, testLogger())
	p.runAll(context.Background())

	if err := p.Check("vault")(context.Background()); err != nil {
		t.Fatalf("expected vault reachable, got %v", err)
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // shut down before probing

	p := New(&config.ProbeConfig{}, []Target{{Name: "moodle", URL: srv.URL}}, nil, testLogger())
	p.runAll(context.Background())

	if err := p.Check("moodle")(context.Background()); err == nil {
		t.Fatal("expected probe error for closed server")
	}
}

func TestProbeRecordsGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsCollector()
	p := New(&config.ProbeConfig{}, []Target{{Name: "vault", URL: srv.URL}}, metrics, testLogger())
	p.runAll(context.Background())

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "darasa_probe_up" {
			continue
		}
		for _, m := range f.GetMetric() {
			if m.GetGauge().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("probe_up gauge not set to 1 for reachable target")
	}
}

func TestCheckUnknownTarget(t *testing.T) {
	p := New(&config.ProbeConfig{}, nil, nil, testLogger())
	// Unknown targets report healthy — absence of evidence, not failure.
	if err := p.Check("unknown")(context.Background()); err != nil {
		t.Fatalf("expected nil for unknown target, got %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	p := New(&config.ProbeConfig{}, nil, nil, testLogger())
	defer p.Stop()
	if err := p.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid cron schedule")
	}
}
