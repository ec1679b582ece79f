// Package httpapi implements the HTTP surface of the Darasa token bridge.
//
// Every authenticated request runs the same staged pipeline: the caller's
// bearer token is exchanged for a Vault session, the session reads or writes
// that identity's Moodle token, and the token is validated live against
// Moodle before any use. Stages pass typed results forward; the first failure
// short-circuits to a normalized outward status.
//
// Security:
//   - Bearer token validation is delegated entirely to Vault's JWT auth
//   - Secret paths derive only from Vault's entity ID, never request data
//   - Moodle tokens travel in form bodies only and are never logged
//   - Per-identity rate limiting after session establishment
//   - Request body size limits (default 1 MB)
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/darasa/internal/moodle"
	"github.com/jkaninda/darasa/internal/observability"
	"github.com/jkaninda/darasa/internal/ratelimit"
	"github.com/jkaninda/darasa/internal/storage"
	"github.com/jkaninda/darasa/internal/upstream"
	"github.com/jkaninda/darasa/internal/vault"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	vault     *vault.Client
	httpc     *upstream.Client
	moodleURL string
	limiter   *ratelimit.Limiter
	audit     storage.AuditStore // nil = audit trail disabled.
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, vc *vault.Client, httpc *upstream.Client, moodleURL string, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		vault:     vc,
		httpc:     httpc,
		moodleURL: strings.TrimRight(moodleURL, "/"),
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithAudit attaches the registration audit trail to the gateway.
func (g *Gateway) WithAudit(store storage.AuditStore) *Gateway {
	g.audit = store
	return g
}

// WithOpenAPIDocs enables the interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Darasa",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, routeLabel, next)
		})
	}

	g.okapi.Put("/token", g.authenticate(g.handleRegister),
		okapi.DocSummary("Register a personal Moodle token"),
		okapi.DocTags("Token"),
		okapi.DocResponse(RegisterResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.okapi.Get("/info", g.withMoodle("info", g.handleInfo),
		okapi.DocSummary("Get the account name behind the registered token"),
		okapi.DocTags("Moodle"),
		okapi.DocResponse(moodle.Info{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.okapi.Get("/courses", g.withMoodle("courses", g.handleCourses),
		okapi.DocSummary("List courses currently in progress"),
		okapi.DocTags("Moodle"),
		okapi.DocResponse([]moodle.Course{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.okapi.Get("/courses/{id}/content", g.withMoodle("contents", g.handleContents),
		okapi.DocSummary("List the sections and modules of a course"),
		okapi.DocTags("Moodle"),
		okapi.DocPathParam("id", "integer", "Course ID"),
		okapi.DocResponse([]moodle.Section{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Pipeline stages ---

// authenticate exchanges the caller's bearer token for a Vault session and
// passes it forward. A missing or empty bearer fails locally with 400 before
// any network call; Vault's own verdict maps outward 1:1. Rate limiting is
// keyed on the resolved entity ID so it cannot be evaded by header churn.
func (g *Gateway) authenticate(next func(*okapi.Context, *vault.Session) error) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortBadRequest("missing bearer token")
		}
		identityToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if identityToken == "" {
			return c.AbortBadRequest("missing bearer token")
		}

		sess, err := g.vault.Login(c.Context(), identityToken)
		if err != nil {
			return g.vaultError(c, err)
		}

		if g.limiter != nil {
			if err := g.limiter.Allow(sess.EntityID()); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}

		return next(c, sess)
	}
}

// withMoodle runs the full use-flow chain: session, stored token lookup, and
// live-validated Moodle client. Construction of the client re-validates the
// token on every request, so a token revoked since registration surfaces as
// 401 here rather than as a confusing downstream failure.
func (g *Gateway) withMoodle(op string, next func(*okapi.Context, *moodle.Client) error) okapi.HandlerFunc {
	return g.authenticate(func(c *okapi.Context, sess *vault.Session) error {
		token, err := g.vault.GetToken(c.Context(), sess)
		if err != nil {
			if vault.IsNotFound(err) {
				g.auditEvent(c.Context(), sess, storage.OutcomeLookupMissing, "")
				g.config.Metrics.RecordPipeline(op, "no_token")
				return c.JSON(http.StatusNotFound, ErrorBody{Error: "no moodle token registered"})
			}
			return g.vaultError(c, err)
		}

		client, err := moodle.New(c.Context(), g.httpc, g.moodleURL, token)
		if err != nil {
			g.config.Metrics.RecordPipeline(op, "rejected_live")
			return g.moodleError(c, err)
		}

		g.auditEvent(c.Context(), sess, storage.OutcomeLookup, "")
		g.config.Metrics.RecordPipeline(op, "ok")
		return next(c, client)
	})
}

// --- Handlers ---

// RegisterResponse is the JSON response for PUT /token.
type RegisterResponse struct {
	Status string `json:"status"`
}

// handleRegister validates and stores the caller's Moodle token. The write
// happens only after the live validation succeeds — an invalid token is never
// persisted, not even transiently.
func (g *Gateway) handleRegister(c *okapi.Context, sess *vault.Session) error {
	token, err := moodle.ParseToken(c.Request().FormValue("moodle_token"))
	if err != nil {
		// Pure format check: no LMS call has happened yet.
		g.auditEvent(c.Context(), sess, storage.OutcomeRejectedFormat, "")
		g.recordRegistration("rejected_format")
		return c.AbortBadRequest("moodle_token must be exactly 32 hex characters")
	}

	if _, err := moodle.New(c.Context(), g.httpc, g.moodleURL, token); err != nil {
		g.auditEvent(c.Context(), sess, storage.OutcomeRejectedLive, "")
		g.recordRegistration("rejected_live")
		return g.moodleError(c, err)
	}

	if err := g.vault.PutToken(c.Context(), sess, token); err != nil {
		g.recordRegistration("store_failed")
		return g.vaultError(c, err)
	}

	g.auditEvent(c.Context(), sess, storage.OutcomeRegistered, "")
	g.recordRegistration("registered")

	g.logger.Info("moodle token registered",
		slog.String("identity_digest", storage.IdentityDigest(sess.EntityID())),
	)

	return c.OK(RegisterResponse{Status: "registered"})
}

func (g *Gateway) handleInfo(c *okapi.Context, client *moodle.Client) error {
	info, err := client.GetInfo(c.Context())
	if err != nil {
		return g.moodleError(c, err)
	}
	return c.OK(info)
}

func (g *Gateway) handleCourses(c *okapi.Context, client *moodle.Client) error {
	courses, err := client.GetCourses(c.Context())
	if err != nil {
		return g.moodleError(c, err)
	}
	return c.OK(courses)
}

func (g *Gateway) handleContents(c *okapi.Context, client *moodle.Client) error {
	courseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.AbortBadRequest("course ID must be a positive integer")
	}

	sections, err := client.GetContents(c.Context(), uint(courseID))
	if err != nil {
		return g.moodleError(c, err)
	}
	return c.OK(sections)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Error mapping ---

// vaultError maps a Vault failure outward. Vault's own HTTP statuses pass
// through 1:1 with the upstream error strings; transport-level failures
// become a 500 with the detail logged, never echoed.
func (g *Gateway) vaultError(c *okapi.Context, err error) error {
	var ve *vault.Error
	if errors.As(err, &ve) {
		return c.JSON(ve.Status, ErrorBody{Error: ve.Message()})
	}

	g.logger.Error("secret store request failed",
		slog.String("error", err.Error()),
	)
	return c.AbortInternalServerError("secret store request failed")
}

// moodleError maps a Moodle failure outward: invalidtoken → 401, any other
// business error or transport failure → 500 with the detail logged only.
func (g *Gateway) moodleError(c *okapi.Context, err error) error {
	var ae *moodle.APIError
	if errors.As(err, &ae) {
		if ae.InvalidToken() {
			return c.JSON(http.StatusUnauthorized, ErrorBody{Error: "moodle rejected the access token"})
		}
		g.logger.Error("moodle web service error",
			slog.String("errorcode", ae.Code),
			slog.String("message", ae.Message),
		)
		return c.AbortInternalServerError("moodle web service error")
	}

	g.logger.Error("moodle request failed",
		slog.String("error", err.Error()),
	)
	return c.AbortInternalServerError("moodle request failed")
}

// --- Helpers ---

// auditEvent records a best-effort audit entry. Audit failures never fail
// the request; they are logged at warn.
func (g *Gateway) auditEvent(ctx context.Context, sess *vault.Session, outcome, detail string) {
	if g.audit == nil {
		return
	}
	err := g.audit.Append(ctx, storage.RegistrationEvent{
		IdentityDigest: storage.IdentityDigest(sess.EntityID()),
		Outcome:        outcome,
		Detail:         detail,
	})
	if err != nil {
		g.logger.Warn("audit write failed",
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
	}
}

// routeLabel collapses parameterized paths to their route pattern so course
// IDs do not become distinct metric label values.
func routeLabel(r *http.Request) string {
	path := r.URL.Path
	if strings.HasPrefix(path, "/courses/") && strings.HasSuffix(path, "/content") {
		return "/courses/{id}/content"
	}
	return path
}

func (g *Gateway) recordRegistration(outcome string) {
	if g.config.Metrics == nil {
		return
	}
	g.config.Metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	g.config.Metrics.RecordPipeline("register", outcome)
}
