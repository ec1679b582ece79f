package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Names of the dependency checks this service registers. The readiness
// payload keys its results by these, so dashboards can alert on a specific
// upstream going away.
const (
	CheckAuditDB = "audit_db" // audit trail database ping
	CheckVault   = "vault"    // secret store reachability (via probe)
	CheckMoodle  = "moodle"   // LMS reachability (via probe)
)

// perCheckTimeout bounds each individual dependency check so one hung
// upstream cannot consume the whole readiness budget.
const perCheckTimeout = 3 * time.Second

// HealthChecker answers the liveness and readiness endpoints. Liveness is
// unconditional; readiness aggregates the registered dependency checks. A
// failing dependency degrades readiness but never liveness — a process with
// an unreachable Vault should stop receiving traffic, not be restarted.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []dependencyCheck
	logger *slog.Logger
}

type dependencyCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// HealthStatus is the JSON payload of /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // failure detail, upstream error text only
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no dependencies registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency check. Safe to call while the
// readiness endpoint is already being served.
func (h *HealthChecker) AddCheck(name string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, dependencyCheck{name: name, fn: fn})
}

// CheckHealth answers liveness: "ok" whenever the process can respond.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered dependency check and aggregates the
// verdict: "ok" only if all pass, "degraded" otherwise. Each check gets its
// own timeout so a single stuck upstream still leaves the others reported
// accurately.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]dependencyCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(checks)),
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, perCheckTimeout)
		start := time.Now()
		err := c.fn(checkCtx)
		latency := time.Since(start).Milliseconds()
		cancel()

		if err != nil {
			status.Status = "degraded"
			status.Checks[c.name] = CheckResult{
				Status:    "fail",
				Message:   err.Error(),
				LatencyMS: latency,
			}
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", c.name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		status.Checks[c.name] = CheckResult{Status: "ok", LatencyMS: latency}
	}

	return status
}
