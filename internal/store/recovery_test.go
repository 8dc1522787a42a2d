package store

import (
	"testing"

	"github.com/dispatchcore/dispatch/pkg/models"
)

func TestRecoverAbandonedRequeues(t *testing.T) {
	db := openTestDB(t)
	task, _ := db.Submit("orphaned", nil)
	db.Claim(task.ID, "dead-worker", 99999)

	rm := NewRecoveryManager(db)
	rm.isAlive = func(pid int) bool { return false }

	recovered, err := rm.RecoverAbandoned(3)
	if err != nil {
		t.Fatalf("RecoverAbandoned returned error: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != task.ID {
		t.Errorf("recovered = %v, want [%s]", recovered, task.ID)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskPending {
		t.Errorf("state = %q, want pending (attempts remained)", got.State)
	}
	if got.ClaimedBy != "" {
		t.Errorf("claimant should be cleared, got %q", got.ClaimedBy)
	}
}

func TestRecoverAbandonedExhaustedInterrupts(t *testing.T) {
	db := openTestDB(t)
	task, _ := db.Submit("orphaned", nil)

	// Burn through the attempt budget, leaving the task processing on the
	// final attempt when the worker "dies".
	taskErr := models.TaskError{Kind: models.ErrorKindProviderUnavailable, Message: "timeout"}
	db.Claim(task.ID, "w", 99999)
	db.MarkFailed(task.ID, "w", taskErr, true, 3)
	db.Claim(task.ID, "w", 99999)
	db.MarkFailed(task.ID, "w", taskErr, true, 3)
	db.Claim(task.ID, "w", 99999)

	rm := NewRecoveryManager(db)
	rm.isAlive = func(pid int) bool { return false }

	if _, err := rm.RecoverAbandoned(3); err != nil {
		t.Fatalf("RecoverAbandoned returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Errorf("state = %q, want interrupted (attempts exhausted)", got.State)
	}
	if got.Error == nil {
		t.Error("interrupted task should carry an error")
	}
}

func TestRecoverAbandonedSkipsLiveClaimants(t *testing.T) {
	db := openTestDB(t)
	task, _ := db.Submit("still running", nil)
	db.Claim(task.ID, "live-worker", 4242)

	rm := NewRecoveryManager(db)
	rm.isAlive = func(pid int) bool { return pid == 4242 }

	recovered, err := rm.RecoverAbandoned(3)
	if err != nil {
		t.Fatalf("RecoverAbandoned returned error: %v", err)
	}
	if len(recovered) != 0 {
		t.Errorf("recovered = %v, want none for a live claimant", recovered)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskProcessing {
		t.Errorf("state = %q, want processing untouched", got.State)
	}
}

func TestRecoverAbandonedIdempotent(t *testing.T) {
	db := openTestDB(t)
	task, _ := db.Submit("orphaned", nil)
	db.Claim(task.ID, "dead-worker", 99999)

	rm := NewRecoveryManager(db)
	rm.isAlive = func(pid int) bool { return false }

	first, err := rm.RecoverAbandoned(3)
	if err != nil {
		t.Fatalf("first RecoverAbandoned returned error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first pass recovered %d tasks, want 1", len(first))
	}

	firstState, _ := db.GetTask(task.ID)

	second, err := rm.RecoverAbandoned(3)
	if err != nil {
		t.Fatalf("second RecoverAbandoned returned error: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second pass recovered %v, want no additional transitions", second)
	}

	secondState, _ := db.GetTask(task.ID)
	if firstState.State != secondState.State || !firstState.UpdatedAt.Equal(secondState.UpdatedAt) {
		t.Error("second recovery pass should not change persisted state")
	}
}
