package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <task-id>",
	Short: "Requeue an interrupted task",
	Long: `Return an interrupted task to the pending queue with a fresh
attempt budget. Only interrupted tasks can be resubmitted.`,
	Args: cobra.ExactArgs(1),
	RunE: runResubmit,
}

func runResubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Resubmit(args[0]); err != nil {
		return err
	}
	fmt.Printf("Task %s returned to the queue\n", args[0])
	return nil
}
