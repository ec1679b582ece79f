package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("MOODLE_URL", "")
	t.Setenv("DARASA_LISTEN_ADDR", "")
	t.Setenv("DARASA_DB_DSN", "")
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "darasa.yaml", `
server:
  listen_addr: ":9090"
vault:
  address: "http://vault:8200"
  role_path: "oidc"
moodle:
  url: "https://moodle.example.edu"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("Addr() = %q, want :9090", cfg.Server.Addr())
	}
	if cfg.Vault.RolePath != "oidc" {
		t.Errorf("RolePath = %q, want oidc", cfg.Vault.RolePath)
	}
	if cfg.Moodle.URL != "https://moodle.example.edu" {
		t.Errorf("Moodle URL = %q", cfg.Moodle.URL)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "darasa.json", `{
  "vault": {"address": "http://vault:8200"},
  "moodle": {"url": "https://moodle.example.edu"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Defaults apply when unset.
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want :8080 default", cfg.Server.Addr())
	}
	if cfg.Upstream.Retries() != 2 {
		t.Errorf("Retries() = %d, want 2 default", cfg.Upstream.Retries())
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULT_ADDR", "http://override:8200")
	t.Setenv("MOODLE_URL", "https://override.example.edu")
	t.Setenv("DARASA_LISTEN_ADDR", ":7070")

	path := writeConfig(t, "darasa.yaml", `
vault:
  address: "http://file:8200"
moodle:
  url: "https://file.example.edu"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vault.Address != "http://override:8200" {
		t.Errorf("VAULT_ADDR override not applied: %q", cfg.Vault.Address)
	}
	if cfg.Moodle.URL != "https://override.example.edu" {
		t.Errorf("MOODLE_URL override not applied: %q", cfg.Moodle.URL)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("DARASA_LISTEN_ADDR override not applied: %q", cfg.Server.ListenAddr)
	}
}

func TestValidation_RequiresUpstreams(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "darasa.yaml", `
moodle:
  url: "https://moodle.example.edu"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "vault.address") {
		t.Fatalf("expected vault.address error, got %v", err)
	}
}

func TestValidation_PostgresRequiresDSN(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "darasa.yaml", `
vault:
  address: "http://vault:8200"
moodle:
  url: "https://moodle.example.edu"
storage:
  driver: postgres
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "storage.postgres.dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestValidation_UnknownDriver(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "darasa.yaml", `
vault:
  address: "http://vault:8200"
moodle:
  url: "https://moodle.example.edu"
storage:
  driver: oracle
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestUpstreamDefaults(t *testing.T) {
	var u UpstreamConfig
	if u.Timeout().Seconds() != 10 {
		t.Errorf("Timeout = %v, want 10s", u.Timeout())
	}
	u.MaxRetries = -1
	if u.Retries() != 0 {
		t.Errorf("negative MaxRetries should mean no retries, got %d", u.Retries())
	}
}
