package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dispatchcore/dispatch/internal/config"
	"github.com/dispatchcore/dispatch/internal/store"
	"github.com/dispatchcore/dispatch/internal/vault"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Two-tier task dispatch engine",
	Long: `Dispatch routes operator tasks between a lightweight always-on
router model and a heavyweight specialist model, with durable crash-safe
task state and snapshot-before-work backups.

Submit work with 'dispatch submit', run the processing loop with
'dispatch run', and inspect the queue with 'dispatch status'.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resubmitCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the task database for the loaded config.
func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task store: %w", err)
	}
	db.SetMaxPayloadBytes(cfg.Orchestrator.MaxPayloadBytes)
	return db, nil
}

// newVault picks the credential source: the configured vault file, or
// process environment variables named after the credential refs.
func newVault(cfg *config.Config) vault.Client {
	if cfg.Vault.File != "" {
		return vault.NewFileVault(cfg.Vault.File)
	}

	creds := vault.Static{}
	for _, ref := range []string{
		cfg.Providers.Router.CredentialRef,
		cfg.Providers.Specialist.CredentialRef,
	} {
		if ref == "" {
			continue
		}
		if v := os.Getenv(strings.ToUpper(ref)); v != "" {
			creds[ref] = v
		}
	}
	return creds
}
