// Package orchestrator runs the control loop: claim pending tasks,
// classify them through the router policy, invoke the chosen model
// tier, and drive the resulting state transitions.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dispatchcore/dispatch/internal/provider"
	"github.com/dispatchcore/dispatch/internal/router"
	"github.com/dispatchcore/dispatch/internal/store"
)

// Classifier decides whether a task is handled by the router model or
// escalated to the specialist tier.
type Classifier interface {
	Classify(ctx context.Context, payload string) router.Decision
}

// PreTaskSnapshotter takes the snapshot required before a task's first
// processing attempt.
type PreTaskSnapshotter interface {
	PreTask(ctx context.Context, taskID string) (string, error)
}

// Config bounds the orchestrator's concurrency and retry behavior.
type Config struct {
	// Workers is the number of concurrent task workers; it caps
	// simultaneous outbound provider calls.
	Workers int
	// MaxAttempts bounds processing attempts per task.
	MaxAttempts int
	// PollInterval is how long an idle worker waits before checking for
	// pending tasks again.
	PollInterval time.Duration
}

// Orchestrator owns the worker pool. Each worker processes at most one
// task at a time; the claim transition in the store is the only
// cross-worker exclusion point.
type Orchestrator struct {
	store     store.TaskStore
	gateway   provider.Gateway
	policy    Classifier
	snapshots PreTaskSnapshotter
	cfg       Config
	pid       int
}

// New creates an orchestrator over the given collaborators.
func New(taskStore store.TaskStore, gateway provider.Gateway, policy Classifier, snapshots PreTaskSnapshotter, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Orchestrator{
		store:     taskStore,
		gateway:   gateway,
		policy:    policy,
		snapshots: snapshots,
		cfg:       cfg,
		pid:       os.Getpid(),
	}
}

// Run starts the worker pool and blocks until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < o.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		g.Go(func() error {
			return o.runWorker(gctx, workerID)
		})
	}

	log.Printf("[orchestrator] started %d workers (pid %d)", o.cfg.Workers, o.pid)
	return g.Wait()
}

// runWorker polls for pending tasks until the context is cancelled.
func (o *Orchestrator) runWorker(ctx context.Context, workerID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		worked, err := o.processNext(ctx, workerID)
		if err != nil {
			log.Printf("[orchestrator] %s: %v", workerID, err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.cfg.PollInterval):
		}
	}
}
