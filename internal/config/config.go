// Package config handles loading and validating Darasa configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Darasa. It is loaded once at startup
// and passed explicitly into each component at construction time — no
// process-wide configuration handle exists.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	Vault         VaultConfig          `json:"vault" yaml:"vault"`
	Moodle        MoodleConfig         `json:"moodle" yaml:"moodle"`
	Upstream      UpstreamConfig       `json:"upstream" yaml:"upstream"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = audit trail disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Probe         *ProbeConfig         `json:"probe,omitempty" yaml:"probe,omitempty"`                 // nil = upstream probes disabled
}

// ServerConfig configures the inbound HTTP surface.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures per-identity rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// VaultConfig locates the secret store.
type VaultConfig struct {
	Address       string `json:"address" yaml:"address"`               // Override: VAULT_ADDR env var.
	RolePath      string `json:"role_path" yaml:"role_path"`           // JWT auth mount. Default: "jwt".
	Mount         string `json:"mount" yaml:"mount"`                   // KV v2 mount. Default: "secret".
	SecretVersion string `json:"secret_version" yaml:"secret_version"` // Path segment inside the mount. Default: "v1".
}

// MoodleConfig locates the LMS.
type MoodleConfig struct {
	URL string `json:"url" yaml:"url"` // Override: MOODLE_URL env var.
}

// UpstreamConfig tunes outbound HTTP behavior shared by both upstream clients.
type UpstreamConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-attempt timeout. Default: 10.
	MaxRetries     int `json:"max_retries" yaml:"max_retries"`         // Retries for transport/5xx failures. Default: 2. Negative = none.
}

// Timeout returns the per-attempt timeout with a default of 10s.
func (u *UpstreamConfig) Timeout() time.Duration {
	if u != nil && u.TimeoutSeconds > 0 {
		return time.Duration(u.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// Retries returns the retry count with a default of 2.
func (u *UpstreamConfig) Retries() int {
	if u == nil || u.MaxRetries == 0 {
		return 2
	}
	if u.MaxRetries < 0 {
		return 0
	}
	return u.MaxRetries
}

// StorageConfig configures the registration audit trail backend.
// When nil, no audit records are written.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: ~/.darasa/darasa.db.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: DARASA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "darasa"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// ProbeConfig configures periodic upstream reachability probes.
type ProbeConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Schedule       string `json:"schedule" yaml:"schedule"`               // cron spec. Default: "@every 30s".
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-probe timeout. Default: 5.
}

// CronSchedule returns the probe schedule with a default of "@every 30s".
func (p *ProbeConfig) CronSchedule() string {
	if p != nil && p.Schedule != "" {
		return p.Schedule
	}
	return "@every 30s"
}

// Timeout returns the per-probe timeout with a default of 5s.
func (p *ProbeConfig) Timeout() time.Duration {
	if p != nil && p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// DefaultConfigPath returns the default config file path (~/.darasa/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/darasa.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".darasa", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides — env vars take
// precedence over config values.
func applyEnvOverrides(cfg *Config) {
	if env := os.Getenv("VAULT_ADDR"); env != "" {
		cfg.Vault.Address = env
	}
	if env := os.Getenv("MOODLE_URL"); env != "" {
		cfg.Moodle.URL = env
	}
	if env := os.Getenv("DARASA_LISTEN_ADDR"); env != "" {
		cfg.Server.ListenAddr = env
	}
	if env := os.Getenv("DARASA_DB_DSN"); env != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = env
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// DatabasePath returns the effective SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "darasa.db"
	}
	return filepath.Join(home, ".darasa", "darasa.db")
}

func (c *Config) validate() error {
	if c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required (set VAULT_ADDR env var)")
	}
	if c.Moodle.URL == "" {
		return fmt.Errorf("moodle.url is required (set MOODLE_URL env var)")
	}
	if c.Server.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("server.max_request_size_bytes must not be negative")
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_minute must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage != nil && c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set DARASA_DB_DSN env var)")
		}
	}
	return nil
}
