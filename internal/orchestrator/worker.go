package orchestrator

import (
	"context"
	"errors"
	"log"

	"github.com/dispatchcore/dispatch/internal/provider"
	"github.com/dispatchcore/dispatch/pkg/models"
)

// processNext picks the oldest pending task and runs it to a transition.
// It reports whether any task was worked on, so idle workers can back
// off to the poll interval.
func (o *Orchestrator) processNext(ctx context.Context, workerID string) (bool, error) {
	task, err := o.store.NextPending()
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// The pre-task snapshot is a hard precondition for the first
	// attempt: without it the task must stay pending. Retries reuse the
	// snapshot already linked to the task.
	snapshotID := task.SnapshotID
	if task.AttemptCount == 0 && snapshotID == "" {
		snapshotID, err = o.snapshots.PreTask(ctx, task.ID)
		if err != nil {
			log.Printf("[orchestrator] %s: pre-task snapshot for %s failed, task stays pending: %v",
				workerID, task.ID, err)
			return false, nil
		}
	}

	claimed, err := o.store.Claim(task.ID, workerID, o.pid)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another worker won the claim; the snapshot is wasted but
		// harmless.
		return true, nil
	}

	if snapshotID != "" && task.SnapshotID == "" {
		if err := o.store.SetSnapshotRef(task.ID, snapshotID); err != nil {
			log.Printf("[orchestrator] %s: link snapshot %s to task %s: %v",
				workerID, snapshotID, task.ID, err)
		}
	}

	return true, o.process(ctx, task, workerID)
}

// process runs one claimed task through classification and invocation,
// observing cancellation before and after each gateway call.
func (o *Orchestrator) process(ctx context.Context, task *models.Task, workerID string) error {
	if o.cancelRequested(task.ID) {
		return o.interruptCancelled(task.ID, workerID)
	}

	decision := o.policy.Classify(ctx, task.Payload)

	// A cancellation that arrived during classification discards the
	// decision, whatever it was.
	if o.cancelRequested(task.ID) {
		return o.interruptCancelled(task.ID, workerID)
	}

	if decision.HandleLocally {
		log.Printf("[orchestrator] %s: task %s answered by router (%s)",
			workerID, task.ID, decision.Rationale)
		return o.store.MarkSucceeded(task.ID, workerID, models.TierRouter, decision.Answer)
	}

	log.Printf("[orchestrator] %s: task %s escalated to specialist (%s)",
		workerID, task.ID, decision.Rationale)

	resp, err := o.gateway.Invoke(ctx, models.TierSpecialist, provider.Request{Payload: task.Payload})

	if o.cancelRequested(task.ID) {
		// The in-flight call ran to completion or timeout; its result
		// is discarded once cancellation is observed.
		return o.interruptCancelled(task.ID, workerID)
	}

	if err != nil {
		return o.failTask(ctx, task.ID, workerID, err)
	}

	return o.store.MarkSucceeded(task.ID, workerID, models.TierSpecialist, resp.Text)
}

// failTask maps a gateway error onto the failure transition. Worker
// shutdown leaves the task processing for crash recovery to requeue.
func (o *Orchestrator) failTask(ctx context.Context, taskID, workerID string, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		log.Printf("[orchestrator] %s: shutdown during task %s, leaving for recovery", workerID, taskID)
		return nil
	}

	taskErr := models.TaskError{Kind: models.ErrorKindProviderUnavailable, Message: err.Error()}
	retryable := true
	if errors.Is(err, provider.ErrCredential) {
		taskErr.Kind = models.ErrorKindCredential
		retryable = false
	}

	final, markErr := o.store.MarkFailed(taskID, workerID, taskErr, retryable, o.cfg.MaxAttempts)
	if markErr != nil {
		return markErr
	}
	log.Printf("[orchestrator] %s: task %s failed (%s), now %s", workerID, taskID, taskErr.Kind, final)
	return nil
}

// interruptCancelled applies the cancellation transition.
func (o *Orchestrator) interruptCancelled(taskID, workerID string) error {
	taskErr := models.TaskError{Kind: models.ErrorKindCancelled, Message: "cancelled by operator"}
	_, err := o.store.MarkFailed(taskID, workerID, taskErr, false, o.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	log.Printf("[orchestrator] %s: task %s interrupted by cancellation", workerID, taskID)
	return nil
}

// cancelRequested checks the task's cancellation flag, treating lookup
// errors as "not cancelled" so a read failure never strands a task.
func (o *Orchestrator) cancelRequested(taskID string) bool {
	cancelled, err := o.store.CancelRequested(taskID)
	if err != nil {
		log.Printf("[orchestrator] cancel check for %s: %v", taskID, err)
		return false
	}
	return cancelled
}
