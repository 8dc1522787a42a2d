package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dispatchcore/dispatch/internal/backup"
	"github.com/dispatchcore/dispatch/pkg/models"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take and inspect snapshots",
}

var backupNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Take a snapshot immediately",
	RunE:  runBackupNow,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots",
	RunE:  runBackupList,
}

func init() {
	backupCmd.AddCommand(backupNowCmd)
	backupCmd.AddCommand(backupListCmd)
}

func runBackupNow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	snapper := backup.NewTarSnapshotter(cfg.Backup.Dir, cfg.Backup.Source, cfg.Backup.RetentionDays)
	coordinator := backup.NewCoordinator(snapper, db)

	if err := coordinator.Scheduled(cmd.Context()); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	fmt.Printf("Snapshot written to %s\n", cfg.Backup.Dir)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.ListSnapshots(nil)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No snapshots recorded.")
		return nil
	}

	for _, rec := range recs {
		status := color.GreenString("ok")
		if rec.Status == models.SnapshotFailed {
			status = color.RedString("failed")
		}
		line := fmt.Sprintf("  %s  %-9s %-6s %s",
			rec.CreatedAt.Format(time.RFC3339), rec.Trigger, status, rec.Path)
		if rec.TaskID != "" {
			line += fmt.Sprintf("  (task %s)", shortID(rec.TaskID))
		}
		fmt.Println(line)
	}
	return nil
}
