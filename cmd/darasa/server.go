package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/darasa/internal/config"
	"github.com/jkaninda/darasa/internal/gateway/httpapi"
	"github.com/jkaninda/darasa/internal/observability"
	"github.com/jkaninda/darasa/internal/probe"
	"github.com/jkaninda/darasa/internal/ratelimit"
	"github.com/jkaninda/darasa/internal/storage"
	pgstore "github.com/jkaninda/darasa/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/darasa/internal/storage/sqlite"
	"github.com/jkaninda/darasa/internal/upstream"
	"github.com/jkaninda/darasa/internal/vault"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverPort       string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP token bridge server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `darasa --config path` and `darasa server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverPort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer wires up all subsystems and serves until a shutdown signal.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("DARASA_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serverPort != "" {
		cfg.Server.ListenAddr = serverPort
	}

	logger.Info("starting darasa", slog.String("config", serverConfigPath))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Shared retrying HTTP client for both upstreams; per-service recorder
	// copies share its connection pool.
	httpc := upstream.NewClient(upstream.Config{
		Timeout:    cfg.Upstream.Timeout(),
		MaxRetries: cfg.Upstream.Retries(),
	})

	vc, err := vault.New(httpc.WithRecorder("vault", obs.MetricsOrNil()), vault.Config{
		Address:       cfg.Vault.Address,
		RolePath:      cfg.Vault.RolePath,
		Mount:         cfg.Vault.Mount,
		SecretVersion: cfg.Vault.SecretVersion,
	})
	if err != nil {
		return fmt.Errorf("initializing vault client: %w", err)
	}

	// Registration audit trail (optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("closing audit store", slog.String("error", err.Error()))
			}
		}()

		if err := store.Migrate(context.Background()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Debug("audit store initialized", slog.String("driver", store.Driver()))

		if obs != nil && obs.Metrics != nil {
			store = observability.NewInstrumentedAuditStore(store, obs.Metrics, obs.TracerOrNil())
		}
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck(observability.CheckAuditDB, store.Ping)
		}
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Upstream reachability probes (optional).
	if cfg.Probe != nil && cfg.Probe.Enabled {
		prober := probe.New(cfg.Probe, []probe.Target{
			{Name: "vault", URL: vc.Address()},
			{Name: "moodle", URL: cfg.Moodle.URL},
		}, obs.MetricsOrNil(), logger)
		if err := prober.Start(ctx, cfg.Probe.CronSchedule()); err != nil {
			return fmt.Errorf("starting upstream probes: %w", err)
		}
		defer prober.Stop()

		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck(observability.CheckVault, prober.Check("vault"))
			obs.Health.AddCheck(observability.CheckMoodle, prober.Check("moodle"))
		}
		logger.Debug("upstream probes started", slog.String("schedule", cfg.Probe.CronSchedule()))
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		MaxRequestSize: cfg.Server.MaxRequestSizeBytes,
	}
	if obs != nil {
		httpCfg.Metrics = obs.Metrics
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	gw := httpapi.NewGateway(httpCfg, vc, httpc.WithRecorder("moodle", obs.MetricsOrNil()), cfg.Moodle.URL, limiter, logger)
	if store != nil {
		gw.WithAudit(store)
	}

	// Serve until signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}

// initStore creates the audit trail backend from config. A nil Storage
// section disables the audit trail entirely.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.AuditStore, error) {
	if cfg.Storage == nil {
		return nil, nil
	}

	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		pgCfg := pgstore.Config{DSN: cfg.Storage.Postgres.DSN}
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
		return pgstore.Open(pgCfg, logger)
	case storage.DriverSQLite:
		sqliteCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
		if cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
			sqliteCfg.Path = cfg.Storage.SQLite.Path
		}
		return sqlitestore.Open(sqliteCfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
