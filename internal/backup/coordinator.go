// Package backup takes snapshots of the system's working state, both on
// a fixed schedule and as a hard precondition before a task's first
// processing attempt.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// ErrSnapshotFailed is returned when a pre-task snapshot could not be
// taken. The caller must not proceed with the claim.
var ErrSnapshotFailed = errors.New("snapshot failed")

// Snapshotter performs one snapshot and returns the artifact path.
type Snapshotter interface {
	Snapshot(ctx context.Context, trigger models.SnapshotTrigger, taskID string) (string, error)
}

// SnapshotRecorder persists snapshot outcomes.
type SnapshotRecorder interface {
	RecordSnapshot(rec *models.SnapshotRecord) error
}

// Coordinator drives the two snapshot paths over a single Snapshotter.
// Scheduled failures are logged and absorbed; pre-task failures are
// surfaced so the triggering transition never commits.
type Coordinator struct {
	snapper  Snapshotter
	recorder SnapshotRecorder
}

// NewCoordinator creates a Coordinator recording outcomes through the
// given recorder.
func NewCoordinator(snapper Snapshotter, recorder SnapshotRecorder) *Coordinator {
	return &Coordinator{snapper: snapper, recorder: recorder}
}

// PreTask takes the snapshot required before a task's first processing
// attempt and returns the snapshot record ID. On failure it records the
// failed attempt and returns ErrSnapshotFailed; the task must stay
// where it is.
func (c *Coordinator) PreTask(ctx context.Context, taskID string) (string, error) {
	rec, err := c.take(ctx, models.TriggerPreTask, taskID)
	if err != nil {
		return "", fmt.Errorf("%w: task %s: %v", ErrSnapshotFailed, taskID, err)
	}
	return rec.ID, nil
}

// Scheduled takes one scheduled snapshot. Failure is returned for
// logging but carries no precondition semantics.
func (c *Coordinator) Scheduled(ctx context.Context) error {
	_, err := c.take(ctx, models.TriggerScheduled, "")
	return err
}

// RunScheduled takes a scheduled snapshot every interval until the
// context is cancelled. Failures are logged and do not stop the loop.
func (c *Coordinator) RunScheduled(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[backup] scheduled snapshots every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Scheduled(ctx); err != nil {
				log.Printf("[backup] scheduled snapshot failed: %v", err)
			}
		}
	}
}

// take runs the snapshotter and records the outcome either way. The
// coordinator assigns the record's identity itself; recorders only
// persist what they are given.
func (c *Coordinator) take(ctx context.Context, trigger models.SnapshotTrigger, taskID string) (*models.SnapshotRecord, error) {
	path, err := c.snapper.Snapshot(ctx, trigger, taskID)

	rec := &models.SnapshotRecord{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		TaskID:    taskID,
		Path:      path,
		CreatedAt: time.Now(),
	}
	if err != nil {
		rec.Status = models.SnapshotFailed
	} else {
		rec.Status = models.SnapshotSucceeded
	}

	if recErr := c.recorder.RecordSnapshot(rec); recErr != nil {
		log.Printf("[backup] record snapshot outcome: %v", recErr)
		if err == nil {
			err = recErr
		}
	}

	if err != nil {
		return nil, err
	}
	log.Printf("[backup] %s snapshot written to %s", trigger, path)
	return rec, nil
}
