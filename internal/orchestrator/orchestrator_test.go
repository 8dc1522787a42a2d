package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dispatchcore/dispatch/internal/provider"
	"github.com/dispatchcore/dispatch/internal/router"
	"github.com/dispatchcore/dispatch/internal/store"
	"github.com/dispatchcore/dispatch/pkg/models"
)

// fakeGateway records specialist invocations and can run a hook while
// the call is "in flight".
type fakeGateway struct {
	resp   *provider.Response
	err    error
	calls  int
	tier   models.Tier
	during func()
}

func (f *fakeGateway) Invoke(_ context.Context, tier models.Tier, _ provider.Request) (*provider.Response, error) {
	f.calls++
	f.tier = tier
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeClassifier returns a fixed decision.
type fakeClassifier struct {
	decision router.Decision
	calls    int
	during   func()
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) router.Decision {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.decision
}

// fakeSnapshotter counts pre-task snapshots and can fail.
type fakeSnapshotter struct {
	err   error
	calls int
}

func (f *fakeSnapshotter) PreTask(_ context.Context, taskID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "snap-" + taskID, nil
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestOrchestrator(db *store.DB, gw *fakeGateway, cls *fakeClassifier, snap *fakeSnapshotter) *Orchestrator {
	return New(db, gw, cls, snap, Config{
		Workers:      1,
		MaxAttempts:  3,
		PollInterval: time.Millisecond,
	})
}

func TestRouterAnswerCompletesTask(t *testing.T) {
	db := openTestStore(t)
	gw := &fakeGateway{}
	cls := &fakeClassifier{decision: router.Decision{
		HandleLocally: true, Answer: "It is 3pm.", Rationale: "simple question",
	}}
	o := newTestOrchestrator(db, gw, cls, &fakeSnapshotter{})

	task, _ := db.Submit("what time is it?", nil)

	worked, err := o.processNext(context.Background(), "w1")
	if err != nil || !worked {
		t.Fatalf("processNext = (%v, %v), want (true, nil)", worked, err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}
	if got.TierUsed != models.TierRouter {
		t.Errorf("tier_used = %q, want router", got.TierUsed)
	}
	if got.Result != "It is 3pm." {
		t.Errorf("result = %q", got.Result)
	}
	if gw.calls != 0 {
		t.Errorf("specialist invoked %d times for a locally handled task, want 0", gw.calls)
	}
}

func TestEscalationInvokesSpecialist(t *testing.T) {
	db := openTestStore(t)
	gw := &fakeGateway{resp: &provider.Response{Text: "detailed plan", ModelID: "claude"}}
	cls := &fakeClassifier{decision: router.Decision{Rationale: "multi-step reasoning"}}
	o := newTestOrchestrator(db, gw, cls, &fakeSnapshotter{})

	task, _ := db.Submit("plan a three-city trip under budget", nil)

	if _, err := o.processNext(context.Background(), "w1"); err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}
	if got.TierUsed != models.TierSpecialist {
		t.Errorf("tier_used = %q, want specialist", got.TierUsed)
	}
	if gw.tier != models.TierSpecialist {
		t.Errorf("gateway invoked with tier %q, want specialist", gw.tier)
	}
}

func TestSpecialistUnavailableExhaustsToInterrupted(t *testing.T) {
	db := openTestStore(t)
	gw := &fakeGateway{err: provider.ErrProviderUnavailable}
	cls := &fakeClassifier{decision: router.Decision{Rationale: "escalate"}}
	o := newTestOrchestrator(db, gw, cls, &fakeSnapshotter{})

	task, _ := db.Submit("doomed work", nil)

	// Each pass claims, fails, and requeues until attempts run out.
	for i := 0; i < 3; i++ {
		if _, err := o.processNext(context.Background(), "w1"); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Fatalf("state = %q, want interrupted after exhausted retries", got.State)
	}
	if got.Error == nil || got.Error.Kind != models.ErrorKindProviderUnavailable {
		t.Errorf("error = %+v, want provider_unavailable", got.Error)
	}
	if got.AttemptCount != 3 {
		t.Errorf("attempt_count = %d, want 3", got.AttemptCount)
	}

	// A fourth pass must find nothing: interrupted never cycles back.
	worked, _ := o.processNext(context.Background(), "w1")
	if worked {
		t.Error("interrupted task was picked up again")
	}
}

func TestCredentialErrorInterruptsImmediately(t *testing.T) {
	db := openTestStore(t)
	gw := &fakeGateway{err: provider.ErrCredential}
	cls := &fakeClassifier{decision: router.Decision{Rationale: "escalate"}}
	o := newTestOrchestrator(db, gw, cls, &fakeSnapshotter{})

	task, _ := db.Submit("needs the specialist", nil)

	if _, err := o.processNext(context.Background(), "w1"); err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Errorf("state = %q, want interrupted (credential errors never retry)", got.State)
	}
	if got.Error == nil || got.Error.Kind != models.ErrorKindCredential {
		t.Errorf("error = %+v, want credential_error", got.Error)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", got.AttemptCount)
	}
}

func TestSnapshotFailureKeepsTaskPending(t *testing.T) {
	db := openTestStore(t)
	cls := &fakeClassifier{decision: router.Decision{HandleLocally: true, Answer: "hi"}}
	snap := &fakeSnapshotter{err: errors.New("disk full")}
	o := newTestOrchestrator(db, &fakeGateway{}, cls, snap)

	task, _ := db.Submit("work", nil)

	worked, err := o.processNext(context.Background(), "w1")
	if err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}
	if worked {
		t.Error("a blocked claim should report idle so the worker backs off")
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskPending {
		t.Errorf("state = %q, want pending (claim must not commit)", got.State)
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt_count = %d, want 0", got.AttemptCount)
	}
	if cls.calls != 0 {
		t.Error("classification ran despite the snapshot precondition failing")
	}
}

func TestSnapshotTakenOnceAndLinked(t *testing.T) {
	db := openTestStore(t)
	gw := &fakeGateway{err: provider.ErrProviderUnavailable}
	cls := &fakeClassifier{decision: router.Decision{Rationale: "escalate"}}
	snap := &fakeSnapshotter{}
	o := newTestOrchestrator(db, gw, cls, snap)

	task, _ := db.Submit("retried work", nil)

	// First pass fails and requeues; second pass retries.
	o.processNext(context.Background(), "w1")
	o.processNext(context.Background(), "w1")

	if snap.calls != 1 {
		t.Errorf("pre-task snapshot taken %d times, want 1 (first attempt only)", snap.calls)
	}

	got, _ := db.GetTask(task.ID)
	if got.SnapshotID != "snap-"+task.ID {
		t.Errorf("snapshot_id = %q, want linked snapshot", got.SnapshotID)
	}
}

func TestCancelBeforeProcessingInterrupts(t *testing.T) {
	db := openTestStore(t)
	cls := &fakeClassifier{decision: router.Decision{HandleLocally: true, Answer: "hi"}}
	o := newTestOrchestrator(db, &fakeGateway{}, cls, &fakeSnapshotter{})

	task, _ := db.Submit("cancel me", nil)
	db.RequestCancel(task.ID)

	if _, err := o.processNext(context.Background(), "w1"); err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Errorf("state = %q, want interrupted", got.State)
	}
	if got.Error == nil || got.Error.Kind != models.ErrorKindCancelled {
		t.Errorf("error = %+v, want cancelled", got.Error)
	}
	if cls.calls != 0 {
		t.Error("cancelled task should not be classified")
	}
}

func TestCancelDuringSpecialistCallDiscardsResult(t *testing.T) {
	db := openTestStore(t)
	cls := &fakeClassifier{decision: router.Decision{Rationale: "escalate"}}

	task, _ := db.Submit("cancel mid-flight", nil)

	gw := &fakeGateway{resp: &provider.Response{Text: "finished anyway"}}
	gw.during = func() { db.RequestCancel(task.ID) }
	o := newTestOrchestrator(db, gw, cls, &fakeSnapshotter{})

	if _, err := o.processNext(context.Background(), "w1"); err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Errorf("state = %q, want interrupted", got.State)
	}
	if got.Error == nil || got.Error.Kind != models.ErrorKindCancelled {
		t.Errorf("error = %+v, want cancelled", got.Error)
	}
	if got.Result != "" {
		t.Errorf("in-flight result %q must be discarded after cancellation", got.Result)
	}
}

func TestCancelDuringClassificationDiscardsDecision(t *testing.T) {
	db := openTestStore(t)

	task, _ := db.Submit("cancel during classify", nil)

	cls := &fakeClassifier{decision: router.Decision{HandleLocally: true, Answer: "too late"}}
	cls.during = func() { db.RequestCancel(task.ID) }
	o := newTestOrchestrator(db, &fakeGateway{}, cls, &fakeSnapshotter{})

	if _, err := o.processNext(context.Background(), "w1"); err != nil {
		t.Fatalf("processNext returned error: %v", err)
	}

	got, _ := db.GetTask(task.ID)
	if got.State != models.TaskInterrupted {
		t.Errorf("state = %q, want interrupted", got.State)
	}
	if got.Result != "" {
		t.Errorf("router answer %q must be discarded after cancellation", got.Result)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	db := openTestStore(t)
	cls := &fakeClassifier{decision: router.Decision{HandleLocally: true, Answer: "ok"}}
	o := newTestOrchestrator(db, &fakeGateway{}, cls, &fakeSnapshotter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	db.Submit("quick", nil)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
