package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dispatchcore/dispatch/internal/backup"
	"github.com/dispatchcore/dispatch/internal/config"
	"github.com/dispatchcore/dispatch/internal/orchestrator"
	"github.com/dispatchcore/dispatch/internal/provider"
	"github.com/dispatchcore/dispatch/internal/router"
	"github.com/dispatchcore/dispatch/internal/store"
	"github.com/dispatchcore/dispatch/internal/vault"
	"github.com/dispatchcore/dispatch/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task processing loop",
	Long: `Start the orchestrator: recover tasks abandoned by a previous
process, then continuously claim pending tasks, classify them through
the router model, and execute them on the appropriate tier.

The loop also takes scheduled backups and reloads provider
configuration when the config file changes. Stop with Ctrl-C; in-flight
tasks are requeued on the next start.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Requeue or interrupt tasks left processing by a dead process.
	recovery := store.NewRecoveryManager(db)
	recovered, err := recovery.RecoverAbandoned(cfg.Orchestrator.MaxAttempts)
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if len(recovered) > 0 {
		log.Printf("[dispatch] recovered %d abandoned tasks", len(recovered))
	}

	vaultClient := newVault(cfg)
	gateway := provider.New(tierConfigs(cfg), vaultClient)
	policy := router.New(gateway)

	snapper := backup.NewTarSnapshotter(cfg.Backup.Dir, cfg.Backup.Source, cfg.Backup.RetentionDays)
	coordinator := backup.NewCoordinator(snapper, db)

	orch := orchestrator.New(db, gateway, policy, coordinator, orchestrator.Config{
		Workers:      cfg.Orchestrator.Workers,
		MaxAttempts:  cfg.Orchestrator.MaxAttempts,
		PollInterval: cfg.Orchestrator.PollInterval,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logCredentialStatus(ctx, cfg, vaultClient)

	go coordinator.RunScheduled(ctx, cfg.Backup.Interval)
	go logTerminalEvents(ctx, db)
	watchConfig(ctx, gateway)

	err = orch.Run(ctx)

	in, out := gateway.Tracker().Total()
	log.Printf("[dispatch] shutting down: %d provider calls, %d input / %d output tokens",
		gateway.Tracker().Calls(), in, out)
	return err
}

// logCredentialStatus reports at startup whether the specialist
// credential resolves. The value itself is never logged, only a masked
// form.
func logCredentialStatus(ctx context.Context, cfg *config.Config, vc vault.Client) {
	pc := cfg.Providers.Specialist
	if pc.Kind != models.ProviderRemoteAPI || pc.UseBedrock {
		return
	}
	secret, err := vc.Resolve(ctx, pc.CredentialRef)
	if err != nil {
		log.Printf("[dispatch] warning: credential %s did not resolve, specialist calls will fail: %v",
			pc.CredentialRef, err)
		return
	}
	log.Printf("[dispatch] credential %s resolved (%s)", pc.CredentialRef, vault.Mask(secret))
}

// tierConfigs maps the loaded configuration onto the gateway's tier table.
func tierConfigs(cfg *config.Config) map[models.Tier]models.ProviderConfig {
	return map[models.Tier]models.ProviderConfig{
		models.TierRouter:     cfg.Providers.Router,
		models.TierSpecialist: cfg.Providers.Specialist,
	}
}

// watchConfig hot-reloads provider settings when an explicit config file
// is in use. Discovery-based configs are only read at startup.
func watchConfig(ctx context.Context, gateway *provider.Service) {
	if configPath == "" {
		return
	}
	go func() {
		err := config.Watch(ctx, configPath, func(cfg *config.Config) {
			gateway.Reload(tierConfigs(cfg))
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("[dispatch] config watch stopped: %v", err)
		}
	}()
}

// logTerminalEvents surfaces every terminal transition. This is the
// notification hook a messaging front-end would subscribe to.
func logTerminalEvents(ctx context.Context, db *store.DB) {
	events, cancel := db.Watch()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				log.Printf("[dispatch] task %s %s: %s: %s", ev.TaskID, ev.State, ev.Err.Kind, ev.Err.Message)
			} else {
				log.Printf("[dispatch] task %s %s", ev.TaskID, ev.State)
			}
		}
	}
}
