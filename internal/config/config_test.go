package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
server:
  port: 9090
identity:
  issuer: https://id.example.edu
  audience: enrollflow
  jwks_url: https://id.example.edu/.well-known/jwks.json
registry:
  store:
    driver: memory
ledger:
  store:
    driver: memory
`

// --- Loading ---

func TestLoad_validFile(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://id.example.edu" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	// Defaults survive partial config.
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Idempotency.Store.DefaultTTL != 24*time.Hour {
		t.Errorf("Idempotency DefaultTTL = %v, want 24h", cfg.Idempotency.Store.DefaultTTL)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_malformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

// --- Validation ---

func TestValidate_missingIdentity(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error without identity settings")
	}
	for _, want := range []string{"identity.issuer", "identity.jwks_url", "identity.audience"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidate_badDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "iss"
	cfg.Identity.Audience = "aud"
	cfg.Identity.JWKSURL = "https://example.com/jwks"
	cfg.Ledger.Store.Driver = "oracle"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ledger.store.driver") {
		t.Fatalf("expected ledger driver error, got %v", err)
	}
}

func TestValidate_badPort(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "iss"
	cfg.Identity.Audience = "aud"
	cfg.Identity.JWKSURL = "https://example.com/jwks"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("expected port error, got %v", err)
	}
}

// --- Environment overrides ---

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("ENROLLFLOW_SERVER_PORT", "7070")
	t.Setenv("ENROLLFLOW_OBSERVABILITY_LOG_LEVEL", "debug")
	t.Setenv("ENROLLFLOW_LEDGER_STORE_DRIVER", "postgres")

	path := writeConfigFile(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Ledger.Store.Driver != "postgres" {
		t.Errorf("Ledger driver = %q, want postgres", cfg.Ledger.Store.Driver)
	}
}
