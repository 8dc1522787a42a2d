// Package store provides SQLite-based durable task state for Dispatch.
package store

import (
	"io"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// Submitter accepts new tasks. This is the interface consumed by the
// messaging front-end.
type Submitter interface {
	Submit(payload string, metadata map[string]string) (*models.Task, error)
}

// TaskStore handles task persistence and state transitions.
type TaskStore interface {
	Submitter
	GetTask(id string) (*models.Task, error)
	NextPending() (*models.Task, error)
	Claim(taskID, workerID string, pid int) (bool, error)
	MarkSucceeded(taskID, workerID string, tier models.Tier, result string) error
	MarkFailed(taskID, workerID string, taskErr models.TaskError, retryable bool, maxAttempts int) (models.TaskState, error)
	RequestCancel(taskID string) error
	CancelRequested(taskID string) (bool, error)
	Resubmit(taskID string) error
	SetSnapshotRef(taskID, snapshotID string) error
	ListTasks(state *models.TaskState) ([]models.Task, error)
}

// SnapshotStore handles backup snapshot records.
type SnapshotStore interface {
	RecordSnapshot(rec *models.SnapshotRecord) error
	GetSnapshot(id string) (*models.SnapshotRecord, error)
	ListSnapshots(trigger *models.SnapshotTrigger) ([]models.SnapshotRecord, error)
}

// Watcher exposes terminal-transition notifications.
type Watcher interface {
	Watch() (<-chan TerminalEvent, func())
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store defines the full persistence interface. It composes focused
// sub-interfaces so components depend only on what they use.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	SnapshotStore
	Watcher
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ SnapshotStore = (*DB)(nil)
	_ Watcher       = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
)
