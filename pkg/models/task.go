package models

import "time"

// TaskState represents the current state of a task.
type TaskState string

const (
	// TaskPending indicates the task is waiting for a worker.
	TaskPending TaskState = "pending"
	// TaskProcessing indicates the task is owned by exactly one worker.
	TaskProcessing TaskState = "processing"
	// TaskCompleted indicates the task finished with a result.
	TaskCompleted TaskState = "completed"
	// TaskInterrupted indicates the task stopped with an error and needs
	// operator attention before it can run again.
	TaskInterrupted TaskState = "interrupted"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskInterrupted:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state requires an explicit resubmission
// before the task becomes eligible again.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskInterrupted
}

// validTransitions is the authoritative transition table. State changes
// outside this table are rejected by the store.
var validTransitions = map[TaskState][]TaskState{
	TaskPending:     {TaskProcessing},
	TaskProcessing:  {TaskCompleted, TaskPending, TaskInterrupted},
	TaskInterrupted: {TaskPending},
	TaskCompleted:   {},
}

// CanTransition returns true if moving from one state to another is allowed
// by the transition table.
func CanTransition(from, to TaskState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorKind is a stable, inspectable classification of a task failure.
type ErrorKind string

const (
	// ErrorKindNone is the zero value for tasks without an error.
	ErrorKindNone ErrorKind = ""
	// ErrorKindInvalidPayload marks submissions rejected before storage.
	ErrorKindInvalidPayload ErrorKind = "invalid_payload"
	// ErrorKindProviderUnavailable marks exhausted transient provider failures.
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
	// ErrorKindCredential marks authentication failures, never retried.
	ErrorKindCredential ErrorKind = "credential_error"
	// ErrorKindCancelled marks operator-initiated cancellation.
	ErrorKindCancelled ErrorKind = "cancelled"
	// ErrorKindSnapshotFailed marks a pre-task snapshot precondition failure.
	ErrorKindSnapshotFailed ErrorKind = "snapshot_failed"
)

// TaskError is the error half of a task's terminal outcome.
type TaskError struct {
	// Kind is the stable error classification.
	Kind ErrorKind `json:"kind"`
	// Message is the human-readable rationale.
	Message string `json:"message"`
}

// Task represents a unit of work in the system.
//
// A task has exactly one state at any instant. All mutation goes through
// store transitions; no component edits fields on a persisted task directly.
type Task struct {
	// ID is the unique identifier for this task, assigned at creation.
	ID string `json:"id"`
	// Payload is the operator's request content. Opaque to the engine
	// beyond size validation at submission.
	Payload string `json:"payload"`
	// Metadata carries submitter-provided context (channel, user id).
	Metadata map[string]string `json:"metadata,omitempty"`
	// State is the current lifecycle state.
	State TaskState `json:"state"`
	// TierUsed records which model tier produced the task's output.
	TierUsed Tier `json:"tier_used"`
	// AttemptCount is the number of processing attempts so far.
	AttemptCount int `json:"attempt_count"`
	// CancelRequested is set by the operator; workers observe it at
	// checkpoints and interrupt the task.
	CancelRequested bool `json:"cancel_requested,omitempty"`
	// ClaimedBy is the worker ID that owns the task while processing.
	ClaimedBy string `json:"claimed_by,omitempty"`
	// ClaimedPID is the OS process of the claimant, used by crash recovery.
	ClaimedPID int `json:"claimed_pid,omitempty"`
	// SnapshotID references the pre-task snapshot taken before the task's
	// first processing attempt, if any.
	SnapshotID string `json:"snapshot_id,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt changes on every state transition.
	UpdatedAt time.Time `json:"updated_at"`
	// Result holds the output on success. Mutually exclusive with Error.
	Result string `json:"result,omitempty"`
	// Error holds the failure on interruption. Mutually exclusive with Result.
	Error *TaskError `json:"error,omitempty"`
}
