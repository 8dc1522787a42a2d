package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// ErrInvalidPayload is returned when a submission is empty or exceeds the
// configured size bound. Rejected submissions are never stored.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrTaskNotFound is returned when no task exists with the given ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidTransition is returned when a requested state change is not in
// the transition table, or the caller does not own the task.
var ErrInvalidTransition = errors.New("invalid task transition")

// Submit validates and persists a new task in the pending state.
// This is the only way a task enters the system.
func (db *DB) Submit(payload string, metadata map[string]string) (*models.Task, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if len(payload) > db.maxPayloadBytes {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit is %d",
			ErrInvalidPayload, len(payload), db.maxPayloadBytes)
	}

	now := time.Now()
	task := &models.Task{
		ID:        uuid.New().String(),
		Payload:   payload,
		Metadata:  metadata,
		State:     models.TaskPending,
		TierUsed:  models.TierNone,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, payload, metadata, state, tier_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Payload, nullString(string(metaJSON)), string(task.State),
		string(task.TierUsed), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return task, nil
}

// GetTask returns the task with the given ID.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(taskSelect+" WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, err
}

// NextPending returns the oldest pending task, or nil if none exists.
// Strict FIFO by creation time bounds starvation.
func (db *DB) NextPending() (*models.Task, error) {
	row := db.QueryRow(taskSelect + `
		WHERE state = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// Claim atomically moves a pending task to processing under the given
// worker's ownership. It returns false if the task was not pending, which
// is how losing claimants observe a concurrent winner. The attempt counter
// is incremented as part of the claim.
func (db *DB) Claim(taskID, workerID string, pid int) (bool, error) {
	res, err := db.Exec(`
		UPDATE tasks
		SET state = 'processing',
		    claimed_by = ?,
		    claimed_pid = ?,
		    attempt_count = attempt_count + 1,
		    updated_at = ?
		WHERE id = ? AND state = 'pending'
	`, workerID, pid, formatTime(time.Now()), taskID)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", taskID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task %s: rows affected: %w", taskID, err)
	}
	return n == 1, nil
}

// MarkSucceeded moves a processing task owned by workerID to completed and
// records the result and the tier that produced it.
func (db *DB) MarkSucceeded(taskID, workerID string, tier models.Tier, result string) error {
	res, err := db.Exec(`
		UPDATE tasks
		SET state = 'completed',
		    result = ?,
		    tier_used = ?,
		    error_kind = NULL,
		    error_message = NULL,
		    claimed_by = NULL,
		    claimed_pid = 0,
		    updated_at = ?
		WHERE id = ? AND state = 'processing' AND claimed_by = ?
	`, result, string(tier), formatTime(time.Now()), taskID, workerID)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: task %s is not processing under worker %s",
			ErrInvalidTransition, taskID, workerID)
	}

	db.emitTerminal(TerminalEvent{TaskID: taskID, State: models.TaskCompleted, Result: result})
	return nil
}

// MarkFailed applies the failure rows of the transition table to a processing
// task owned by workerID. Retryable failures return the task to pending
// while attempts remain; everything else interrupts it with the given
// error. The resulting state is returned.
func (db *DB) MarkFailed(taskID, workerID string, taskErr models.TaskError, retryable bool, maxAttempts int) (models.TaskState, error) {
	var final models.TaskState

	err := db.Transaction(func(tx *sql.Tx) error {
		var state string
		var claimedBy sql.NullString
		var attempts int
		row := tx.QueryRow("SELECT state, claimed_by, attempt_count FROM tasks WHERE id = ?", taskID)
		if err := row.Scan(&state, &claimedBy, &attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			}
			return fmt.Errorf("load task %s: %w", taskID, err)
		}
		if state != string(models.TaskProcessing) || claimedBy.String != workerID {
			return fmt.Errorf("%w: task %s is not processing under worker %s",
				ErrInvalidTransition, taskID, workerID)
		}

		if retryable && attempts < maxAttempts {
			final = models.TaskPending
		} else {
			final = models.TaskInterrupted
		}
		if !models.CanTransition(models.TaskState(state), final) {
			return fmt.Errorf("%w: task %s cannot move from %s to %s",
				ErrInvalidTransition, taskID, state, final)
		}

		if final == models.TaskPending {
			_, err := tx.Exec(`
				UPDATE tasks
				SET state = 'pending', claimed_by = NULL, claimed_pid = 0, updated_at = ?
				WHERE id = ?
			`, formatTime(time.Now()), taskID)
			return err
		}

		_, err := tx.Exec(`
			UPDATE tasks
			SET state = 'interrupted',
			    error_kind = ?,
			    error_message = ?,
			    result = NULL,
			    claimed_by = NULL,
			    claimed_pid = 0,
			    updated_at = ?
			WHERE id = ?
		`, string(taskErr.Kind), taskErr.Message, formatTime(time.Now()), taskID)
		return err
	})
	if err != nil {
		return "", err
	}

	if final == models.TaskInterrupted {
		db.emitTerminal(TerminalEvent{TaskID: taskID, State: models.TaskInterrupted, Err: &taskErr})
	}
	return final, nil
}

// RequestCancel flags a task for cancellation. The owning worker observes
// the flag at its next checkpoint and interrupts the task; pending tasks
// are interrupted on their next claim attempt.
func (db *DB) RequestCancel(taskID string) error {
	res, err := db.Exec(`
		UPDATE tasks SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND state IN ('pending', 'processing')
	`, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("request cancel for %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: task %s is not cancellable", ErrTaskNotFound, taskID)
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested for the
// task. Workers call this at checkpoints.
func (db *DB) CancelRequested(taskID string) (bool, error) {
	var flag int
	row := db.QueryRow("SELECT cancel_requested FROM tasks WHERE id = ?", taskID)
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return false, fmt.Errorf("read cancel flag for %s: %w", taskID, err)
	}
	return flag == 1, nil
}

// Resubmit returns an interrupted task to pending with its attempt counter
// reset. This is the operator's recovery path for interrupted work.
func (db *DB) Resubmit(taskID string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var state string
		row := tx.QueryRow("SELECT state FROM tasks WHERE id = ?", taskID)
		if err := row.Scan(&state); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			}
			return fmt.Errorf("load task %s: %w", taskID, err)
		}

		from := models.TaskState(state)
		if from != models.TaskInterrupted || !models.CanTransition(from, models.TaskPending) {
			return fmt.Errorf("%w: cannot resubmit task %s from state %s",
				ErrInvalidTransition, taskID, from)
		}

		_, err := tx.Exec(`
			UPDATE tasks
			SET state = 'pending',
			    attempt_count = 0,
			    cancel_requested = 0,
			    tier_used = 'none',
			    error_kind = NULL,
			    error_message = NULL,
			    updated_at = ?
			WHERE id = ?
		`, formatTime(time.Now()), taskID)
		if err != nil {
			return fmt.Errorf("resubmit task %s: %w", taskID, err)
		}
		return nil
	})
}

// SetSnapshotRef links a task to its pre-task snapshot record.
func (db *DB) SetSnapshotRef(taskID, snapshotID string) error {
	_, err := db.Exec("UPDATE tasks SET snapshot_id = ? WHERE id = ?", snapshotID, taskID)
	if err != nil {
		return fmt.Errorf("link snapshot to task %s: %w", taskID, err)
	}
	return nil
}

// ListTasks returns tasks, optionally filtered by state, newest first.
func (db *DB) ListTasks(state *models.TaskState) ([]models.Task, error) {
	query := taskSelect
	var args []any
	if state != nil {
		query += " WHERE state = ?"
		args = append(args, string(*state))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// StateCounts returns the number of tasks in each state.
func (db *DB) StateCounts() (map[models.TaskState]int, error) {
	rows, err := db.Query("SELECT state, COUNT(*) FROM tasks GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[models.TaskState(state)] = n
	}
	return counts, rows.Err()
}

const taskSelect = `
	SELECT id, payload, metadata, state, tier_used, attempt_count,
	       cancel_requested, claimed_by, claimed_pid, snapshot_id,
	       created_at, updated_at, result, error_kind, error_message
	FROM tasks`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task                           models.Task
		metaJSON, claimedBy, snapID    sql.NullString
		result, errKind, errMsg        sql.NullString
		createdAt, updatedAt           string
		cancelRequested                int
	)

	err := row.Scan(&task.ID, &task.Payload, &metaJSON, &task.State, &task.TierUsed,
		&task.AttemptCount, &cancelRequested, &claimedBy, &task.ClaimedPID, &snapID,
		&createdAt, &updatedAt, &result, &errKind, &errMsg)
	if err != nil {
		return nil, err
	}

	task.CancelRequested = cancelRequested == 1
	task.ClaimedBy = claimedBy.String
	task.SnapshotID = snapID.String
	task.Result = result.String

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", task.ID, err)
		}
	}
	if errKind.Valid && errKind.String != "" {
		task.Error = &models.TaskError{
			Kind:    models.ErrorKind(errKind.String),
			Message: errMsg.String,
		}
	}

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", task.ID, err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", task.ID, err)
	}

	return &task, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
