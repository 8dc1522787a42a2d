package store

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/dispatchcore/dispatch/pkg/models"
)

// RecoveryManager moves tasks abandoned by a crashed process out of the
// processing state on startup. Without it, a task claimed by a dead worker
// would stay processing forever.
type RecoveryManager struct {
	db *DB

	// isAlive reports whether the given PID belongs to a live process.
	// Overridable in tests.
	isAlive func(pid int) bool
}

// NewRecoveryManager creates a RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, isAlive: isProcessAlive}
}

// RecoverAbandoned scans for processing tasks whose claimant is no longer
// alive and applies the crash-recovery rule: back to pending while
// attempts remain, interrupted otherwise. It returns the IDs of tasks it
// transitioned. Running it again on the same state is a no-op: recovered
// tasks are no longer processing, so the scan does not see them.
func (rm *RecoveryManager) RecoverAbandoned(maxAttempts int) ([]string, error) {
	processing := models.TaskProcessing
	tasks, err := rm.db.ListTasks(&processing)
	if err != nil {
		return nil, fmt.Errorf("list processing tasks: %w", err)
	}

	var recovered []string
	for _, task := range tasks {
		if task.ClaimedPID > 0 && rm.isAlive(task.ClaimedPID) {
			continue
		}

		if task.AttemptCount < maxAttempts {
			if err := rm.requeue(task.ID); err != nil {
				return recovered, err
			}
			log.Printf("[recovery] task %s abandoned by pid %d, returned to pending (attempt %d/%d)",
				task.ID, task.ClaimedPID, task.AttemptCount, maxAttempts)
		} else {
			if err := rm.interrupt(task.ID); err != nil {
				return recovered, err
			}
			log.Printf("[recovery] task %s abandoned by pid %d with attempts exhausted, interrupted",
				task.ID, task.ClaimedPID)
		}
		recovered = append(recovered, task.ID)
	}

	return recovered, nil
}

// requeue returns an abandoned processing task to pending.
func (rm *RecoveryManager) requeue(taskID string) error {
	_, err := rm.db.Exec(`
		UPDATE tasks
		SET state = 'pending', claimed_by = NULL, claimed_pid = 0, updated_at = ?
		WHERE id = ? AND state = 'processing'
	`, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("requeue abandoned task %s: %w", taskID, err)
	}
	return nil
}

// interrupt marks an abandoned processing task as interrupted.
func (rm *RecoveryManager) interrupt(taskID string) error {
	taskErr := models.TaskError{
		Kind:    models.ErrorKindProviderUnavailable,
		Message: "worker process died with attempts exhausted",
	}

	_, err := rm.db.Exec(`
		UPDATE tasks
		SET state = 'interrupted',
		    error_kind = ?,
		    error_message = ?,
		    claimed_by = NULL,
		    claimed_pid = 0,
		    updated_at = ?
		WHERE id = ? AND state = 'processing'
	`, string(taskErr.Kind), taskErr.Message, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("interrupt abandoned task %s: %w", taskID, err)
	}

	rm.db.emitTerminal(TerminalEvent{TaskID: taskID, State: models.TaskInterrupted, Err: &taskErr})
	return nil
}

// isProcessAlive checks if a process with the given PID exists.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 performs the existence check without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
