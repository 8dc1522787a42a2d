// Package config handles configuration loading and management for Dispatch.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// Config holds all configuration for Dispatch.
type Config struct {
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Backup       BackupConfig       `mapstructure:"backup"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Store        StoreConfig        `mapstructure:"store"`
}

// ProvidersConfig maps tier names to provider configurations.
type ProvidersConfig struct {
	Router     models.ProviderConfig `mapstructure:"router"`
	Specialist models.ProviderConfig `mapstructure:"specialist"`
}

// OrchestratorConfig holds control-loop settings.
type OrchestratorConfig struct {
	// Workers bounds the number of concurrently processed tasks, and so
	// the number of simultaneous outbound provider calls.
	Workers int `mapstructure:"workers"`
	// MaxAttempts bounds processing attempts before a task is interrupted.
	MaxAttempts int `mapstructure:"max_attempts"`
	// MaxPayloadBytes bounds accepted submission payloads.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
	// PollInterval is how long an idle worker waits before rescanning for
	// pending tasks.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BackupConfig holds backup coordinator settings.
type BackupConfig struct {
	// Dir is where snapshot archives are written.
	Dir string `mapstructure:"dir"`
	// Source is the directory tree the snapshot captures.
	Source string `mapstructure:"source"`
	// Interval is the scheduled snapshot cadence.
	Interval time.Duration `mapstructure:"interval"`
	// RetentionDays prunes scheduled archives older than this.
	RetentionDays int `mapstructure:"retention_days"`
}

// VaultConfig holds secret store settings.
type VaultConfig struct {
	// File is the path to the YAML credential file. Empty disables the
	// file vault; remote providers then require credentials in the
	// environment.
	File string `mapstructure:"file"`
}

// StoreConfig holds task store settings.
type StoreConfig struct {
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
}

// DefaultDataDir returns the XDG data directory for Dispatch.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "dispatch")
}

// setDefaults registers built-in defaults on the viper instance.
func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	// Router tier: always-on local model, short timeout so classification
	// never stalls the loop.
	v.SetDefault("providers.router.kind", string(models.ProviderLocal))
	v.SetDefault("providers.router.model_id", "qwen3:0.6b")
	v.SetDefault("providers.router.endpoint", "")
	v.SetDefault("providers.router.timeout", "30s")
	v.SetDefault("providers.router.max_retries", 3)
	v.SetDefault("providers.router.max_tokens", 1024)

	// Specialist tier: heavier model, long but bounded timeout.
	v.SetDefault("providers.specialist.kind", string(models.ProviderRemoteAPI))
	v.SetDefault("providers.specialist.model_id", "claude-sonnet-4-20250514")
	v.SetDefault("providers.specialist.endpoint", "")
	v.SetDefault("providers.specialist.credential_ref", "anthropic_api_key")
	v.SetDefault("providers.specialist.timeout", "10m")
	v.SetDefault("providers.specialist.max_retries", 3)
	v.SetDefault("providers.specialist.max_tokens", 8192)

	v.SetDefault("orchestrator.workers", 2)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.max_payload_bytes", 64*1024)
	v.SetDefault("orchestrator.poll_interval", "2s")

	v.SetDefault("backup.dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup.source", dataDir)
	v.SetDefault("backup.interval", "24h")
	v.SetDefault("backup.retention_days", 7)

	v.SetDefault("vault.file", "")
	v.SetDefault("store.path", filepath.Join(dataDir, "dispatch.db"))
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables
// 2. Project config (.dispatch.yaml in the current directory or a parent)
// 3. User config (~/.config/dispatch/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("providers.router.endpoint", "DISPATCH_ROUTER_ENDPOINT")
	v.BindEnv("providers.specialist.endpoint", "DISPATCH_SPECIALIST_ENDPOINT")
	v.BindEnv("vault.file", "DISPATCH_VAULT_FILE")
	v.BindEnv("store.path", "DISPATCH_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEndpointDefaults(cfg)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing and
// for explicit --config flags).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEndpointDefaults(cfg)
	return cfg, nil
}

// applyEndpointDefaults fills per-kind endpoint defaults on tiers that
// didn't set one.
func applyEndpointDefaults(cfg *Config) {
	for _, pc := range []*models.ProviderConfig{&cfg.Providers.Router, &cfg.Providers.Specialist} {
		if pc.Endpoint == "" && pc.Kind == models.ProviderLocal {
			pc.Endpoint = "http://localhost:11434"
		}
	}
}

// Provider returns the provider configuration for the given tier.
func (c *Config) Provider(tier models.Tier) (models.ProviderConfig, error) {
	switch tier {
	case models.TierRouter:
		return c.Providers.Router, nil
	case models.TierSpecialist:
		return c.Providers.Specialist, nil
	default:
		return models.ProviderConfig{}, fmt.Errorf("no provider configured for tier %q", tier)
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1, got %d", c.Orchestrator.Workers)
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1, got %d", c.Orchestrator.MaxAttempts)
	}
	if c.Orchestrator.MaxPayloadBytes < 1 {
		return fmt.Errorf("orchestrator.max_payload_bytes must be positive, got %d", c.Orchestrator.MaxPayloadBytes)
	}
	for _, tier := range []models.Tier{models.TierRouter, models.TierSpecialist} {
		pc, _ := c.Provider(tier)
		if !pc.Kind.Valid() {
			return fmt.Errorf("providers.%s.kind %q is not a known provider kind", tier, pc.Kind)
		}
		if pc.Kind == models.ProviderRemoteAPI && pc.CredentialRef == "" {
			return fmt.Errorf("providers.%s requires a credential_ref for remote_api providers", tier)
		}
		if pc.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout must be positive", tier)
		}
	}
	return nil
}

// getUserConfigDir returns the XDG config directory for Dispatch.
func getUserConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "dispatch")
}

// findProjectConfig walks up from the current directory looking for a
// .dispatch.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ".dispatch.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
