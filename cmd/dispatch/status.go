package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dispatchcore/dispatch/internal/store"
	"github.com/dispatchcore/dispatch/pkg/models"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show queue state or a single task",
	Long: `Without arguments, shows per-state task counts and the most recent
tasks. With a task ID, shows that task's full record.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List every task, not just recent ones")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		return showTask(db, args[0])
	}

	counts, err := db.StateCounts()
	if err != nil {
		return err
	}

	fmt.Println("Queue:")
	for _, state := range []models.TaskState{
		models.TaskPending, models.TaskProcessing, models.TaskCompleted, models.TaskInterrupted,
	} {
		stateColor(state).Printf("  %-12s %d\n", state, counts[state])
	}

	tasks, err := db.ListTasks(nil)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("\nNo tasks. Run 'dispatch submit <payload>' to queue one.")
		return nil
	}

	limit := 10
	if statusAll || len(tasks) < limit {
		limit = len(tasks)
	}

	fmt.Println("\nRecent tasks:")
	for _, task := range tasks[:limit] {
		printTaskLine(&task)
	}
	return nil
}

func showTask(db *store.DB, id string) error {
	task, err := db.GetTask(id)
	if err != nil {
		return err
	}

	fmt.Printf("Task:      %s\n", task.ID)
	fmt.Printf("State:     %s\n", stateColor(task.State).Sprint(task.State))
	fmt.Printf("Tier:      %s\n", task.TierUsed)
	fmt.Printf("Attempts:  %d\n", task.AttemptCount)
	fmt.Printf("Created:   %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:   %s\n", task.UpdatedAt.Format(time.RFC3339))
	if task.SnapshotID != "" {
		fmt.Printf("Snapshot:  %s\n", task.SnapshotID)
	}
	fmt.Printf("Payload:   %s\n", truncate(task.Payload, 200))
	if task.Result != "" {
		fmt.Printf("Result:    %s\n", truncate(task.Result, 400))
	}
	if task.Error != nil {
		color.Red("Error:     %s: %s", task.Error.Kind, task.Error.Message)
	}
	return nil
}

func printTaskLine(task *models.Task) {
	marker := stateColor(task.State).Sprintf("%-12s", task.State)
	fmt.Printf("  %s %s  %s\n", shortID(task.ID), marker, truncate(task.Payload, 60))
}

func stateColor(state models.TaskState) *color.Color {
	switch state {
	case models.TaskPending:
		return color.New(color.FgYellow)
	case models.TaskProcessing:
		return color.New(color.FgCyan)
	case models.TaskCompleted:
		return color.New(color.FgGreen)
	case models.TaskInterrupted:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
