// Package probe runs periodic reachability probes against the upstream
// services Darasa depends on. Probes never carry credentials — a probe
// only answers "can this host be reached over HTTP right now".
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/darasa/internal/config"
	"github.com/jkaninda/darasa/internal/observability"
)

// Target is one upstream endpoint to probe.
type Target struct {
	Name string // metric label and health check name, e.g. "vault"
	URL  string // probed with a credential-free GET
}

// Prober probes each target on a cron schedule and records the result.
// The latest result per target feeds both the probe_up gauge and the
// readiness endpoint.
type Prober struct {
	targets []Target
	client  *http.Client
	timeout time.Duration
	metrics *observability.MetricsCollector
	logger  *slog.Logger
	cron    *cron.Cron

	mu     sync.RWMutex
	status map[string]error // last probe error per target, nil = reachable
}

// New creates a Prober. Metrics may be nil.
func New(cfg *config.ProbeConfig, targets []Target, metrics *observability.MetricsCollector, logger *slog.Logger) *Prober {
	timeout := cfg.Timeout()
	return &Prober{
		targets: targets,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		cron:    cron.New(),
		status:  make(map[string]error, len(targets)),
	}
}

// Start runs one immediate probe round, then schedules recurring rounds.
func (p *Prober) Start(ctx context.Context, schedule string) error {
	p.runAll(ctx)

	if _, err := p.cron.AddFunc(schedule, func() { p.runAll(ctx) }); err != nil {
		return fmt.Errorf("scheduling probes with %q: %w", schedule, err)
	}
	p.cron.Start()

	p.logger.Info("upstream probes started",
		slog.String("schedule", schedule),
		slog.Int("targets", len(p.targets)),
	)
	return nil
}

// Stop halts the probe schedule. In-flight probes finish on their own timeout.
func (p *Prober) Stop() {
	p.cron.Stop()
}

// Check returns a health check function for a named target, suitable for
// HealthChecker.AddCheck. It reports the most recent probe result without
// issuing a new request.
func (p *Prober) Check(name string) func(ctx context.Context) error {
	return func(context.Context) error {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.status[name]
	}
}

func (p *Prober) runAll(ctx context.Context) {
	for _, t := range p.targets {
		err := p.probe(ctx, t)

		p.mu.Lock()
		p.status[t.Name] = err
		p.mu.Unlock()

		if p.metrics != nil {
			up := 1.0
			if err != nil {
				up = 0
			}
			p.metrics.ProbeUp.WithLabelValues(t.Name).Set(up)
		}

		if err != nil {
			p.logger.Warn("upstream unreachable",
				slog.String("target", t.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// probe issues a credential-free GET. Any HTTP response counts as reachable —
// an auth-required or sealed upstream still answers, which is all we ask.
func (p *Prober) probe(ctx context.Context, t Target) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		return fmt.Errorf("building probe request for %s: %w", t.Name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", t.Name, err)
	}
	resp.Body.Close()
	return nil
}
