package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cancellation of a task",
	Long: `Flag a pending or processing task for cancellation. The owning
worker observes the flag at its next checkpoint and interrupts the
task; any in-flight model call runs to completion but its result is
discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RequestCancel(args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for task %s\n", args[0])
	return nil
}
