package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dispatchcore/dispatch/internal/store"
)

var submitMeta []string

var submitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Submit a task for processing",
	Long: `Queue a task. The payload is classified by the router model when a
worker picks it up; use 'dispatch status' to follow its progress.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringArrayVar(&submitMeta, "meta", nil, "Metadata as key=value (repeatable)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	metadata, err := parseMeta(submitMeta)
	if err != nil {
		return err
	}

	payload := strings.Join(args, " ")
	task, err := db.Submit(payload, metadata)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPayload) {
			return fmt.Errorf("rejected: %w", err)
		}
		return err
	}

	fmt.Printf("Submitted task %s\n", task.ID)
	return nil
}

// parseMeta converts repeated key=value flags into a metadata map.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}
