package models

import "time"

// SnapshotTrigger identifies why a backup snapshot was taken.
type SnapshotTrigger string

const (
	// TriggerScheduled marks snapshots taken on the fixed daily schedule.
	TriggerScheduled SnapshotTrigger = "scheduled"
	// TriggerPreTask marks snapshots taken immediately before a task's
	// first claim.
	TriggerPreTask SnapshotTrigger = "pre_task"
)

// SnapshotStatus is the outcome of a snapshot attempt.
type SnapshotStatus string

const (
	// SnapshotSucceeded indicates the snapshot mechanism reported success.
	SnapshotSucceeded SnapshotStatus = "succeeded"
	// SnapshotFailed indicates the snapshot mechanism reported failure.
	SnapshotFailed SnapshotStatus = "failed"
)

// SnapshotRecord is metadata about one snapshot attempt. The snapshot
// bytes themselves are owned by the backup mechanism.
type SnapshotRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// Trigger is why the snapshot was taken.
	Trigger SnapshotTrigger `json:"trigger"`
	// TaskID is the associated task for pre-task snapshots, empty for
	// scheduled ones.
	TaskID string `json:"task_id,omitempty"`
	// Status is the reported outcome.
	Status SnapshotStatus `json:"status"`
	// Path is where the backup mechanism placed the snapshot, if it
	// reported one.
	Path string `json:"path,omitempty"`
	// CreatedAt is when the snapshot was attempted.
	CreatedAt time.Time `json:"created_at"`
}
