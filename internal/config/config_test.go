package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dispatchcore/dispatch/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPathDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}

	if cfg.Orchestrator.Workers != 2 {
		t.Errorf("default workers = %d, want 2", cfg.Orchestrator.Workers)
	}
	if cfg.Orchestrator.MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d, want 3", cfg.Orchestrator.MaxAttempts)
	}
	if cfg.Providers.Router.Kind != models.ProviderLocal {
		t.Errorf("default router kind = %q, want local", cfg.Providers.Router.Kind)
	}
	if cfg.Providers.Router.Timeout != 30*time.Second {
		t.Errorf("default router timeout = %v, want 30s", cfg.Providers.Router.Timeout)
	}
	if cfg.Providers.Specialist.Timeout != 10*time.Minute {
		t.Errorf("default specialist timeout = %v, want 10m", cfg.Providers.Specialist.Timeout)
	}
	if cfg.Providers.Router.Endpoint != "http://localhost:11434" {
		t.Errorf("local endpoint default = %q", cfg.Providers.Router.Endpoint)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  workers: 8
  max_attempts: 5
providers:
  specialist:
    kind: remote_api
    model_id: claude-sonnet-4-20250514
    credential_ref: my_key
    timeout: 2m
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}

	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Orchestrator.Workers)
	}
	if cfg.Providers.Specialist.ModelID != "claude-sonnet-4-20250514" {
		t.Errorf("specialist model = %q", cfg.Providers.Specialist.ModelID)
	}
	if cfg.Providers.Specialist.CredentialRef != "my_key" {
		t.Errorf("credential_ref = %q, want my_key", cfg.Providers.Specialist.CredentialRef)
	}
	if cfg.Providers.Specialist.Timeout != 2*time.Minute {
		t.Errorf("specialist timeout = %v, want 2m", cfg.Providers.Specialist.Timeout)
	}
}

func TestProviderLookup(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}

	if _, err := cfg.Provider(models.TierRouter); err != nil {
		t.Errorf("Provider(router) returned error: %v", err)
	}
	if _, err := cfg.Provider(models.TierSpecialist); err != nil {
		t.Errorf("Provider(specialist) returned error: %v", err)
	}
	if _, err := cfg.Provider(models.TierNone); err == nil {
		t.Error("Provider(none) should return an error")
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}

	cfg.Orchestrator.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero workers should fail validation")
	}
	cfg.Orchestrator.Workers = 2

	cfg.Providers.Specialist.CredentialRef = ""
	if err := cfg.Validate(); err == nil {
		t.Error("remote_api without credential_ref should fail validation")
	}
}
