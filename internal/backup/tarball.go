package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// snapshotPrefix names the archive files so pruning never touches
// anything else in the backup directory.
const snapshotPrefix = "dispatch_backup_"

// TarSnapshotter archives a source directory into timestamped tar.gz
// files under Dir, pruning archives older than the retention window
// after each successful snapshot.
type TarSnapshotter struct {
	// Dir is where archives are written.
	Dir string
	// Source is the directory to archive.
	Source string
	// RetentionDays bounds how long archives are kept. Zero disables
	// pruning.
	RetentionDays int

	// now is stubbed in tests.
	now func() time.Time
}

// NewTarSnapshotter creates a snapshotter writing archives of source
// into dir.
func NewTarSnapshotter(dir, source string, retentionDays int) *TarSnapshotter {
	return &TarSnapshotter{
		Dir:           dir,
		Source:        source,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Snapshot archives the source directory and returns the archive path.
func (t *TarSnapshotter) Snapshot(ctx context.Context, trigger models.SnapshotTrigger, taskID string) (string, error) {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := os.Stat(t.Source); err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	timestamp := t.now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("%s%s_%s.tar.gz", snapshotPrefix, trigger, timestamp)
	if trigger == models.TriggerPreTask && taskID != "" {
		name = fmt.Sprintf("%s%s_%s_%s.tar.gz", snapshotPrefix, trigger, shortID(taskID), timestamp)
	}
	archive := filepath.Join(t.Dir, name)

	// Archiving relative to the source's parent keeps paths inside the
	// tarball short and restorable anywhere.
	parent := filepath.Dir(t.Source)
	base := filepath.Base(t.Source)
	cmd := exec.CommandContext(ctx, "tar", "-czf", archive, "-C", parent, base)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(archive)
		return "", fmt.Errorf("tar: %w: %s", err, out)
	}

	t.prune()
	return archive, nil
}

// prune removes archives older than the retention window. Pruning
// failures are logged, never fatal.
func (t *TarSnapshotter) prune() {
	if t.RetentionDays <= 0 {
		return
	}
	cutoff := t.now().Add(-time.Duration(t.RetentionDays) * 24 * time.Hour)

	matches, err := filepath.Glob(filepath.Join(t.Dir, snapshotPrefix+"*.tar.gz"))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Printf("[backup] prune %s: %v", path, err)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
