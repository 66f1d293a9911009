package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/storygraph/novel"
)

// DefaultQueueSize is the number of job invocations that can wait for a
// free slot before Start and Continue block.
const DefaultQueueSize = 256

// ErrRunnerStopped is returned when work is queued after Serve returned.
var ErrRunnerStopped = errors.New("job runner stopped")

// JobRunner drives jobs. *novel.Controller implements it.
type JobRunner interface {
	Run(ctx context.Context, id string, policy novel.Policy) (novel.Status, error)
	Continue(ctx context.Context, id string, policy novel.Policy) (novel.Status, error)
}

type task struct {
	jobID  string
	resume bool
}

// Runner executes job invocations in the background, at most limit at a
// time. Each job is logically single threaded; the runner only bounds how
// many jobs advance concurrently.
type Runner struct {
	jobs    JobRunner
	policy  novel.Policy
	limit   int
	logger  *slog.Logger
	queue   chan task
	stopped chan struct{}
	active  atomic.Int64
}

// NewRunner creates a Runner. A limit below 1 means 1. A nil policy uses
// the controller's default.
func NewRunner(jobs JobRunner, limit int, policy novel.Policy, logger *slog.Logger) *Runner {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:    jobs,
		policy:  policy,
		limit:   limit,
		logger:  logger,
		queue:   make(chan task, DefaultQueueSize),
		stopped: make(chan struct{}),
	}
}

// Start queues the first run of a pending job.
func (r *Runner) Start(ctx context.Context, jobID string) error {
	return r.enqueue(ctx, task{jobID: jobID})
}

// Continue queues a job whose decision was accepted.
func (r *Runner) Continue(ctx context.Context, jobID string) error {
	return r.enqueue(ctx, task{jobID: jobID, resume: true})
}

// Ready reports whether the runner still accepts work.
func (r *Runner) Ready() error {
	select {
	case <-r.stopped:
		return ErrRunnerStopped
	default:
		return nil
	}
}

// UnclaimedLister lists jobs accepted for running that no invocation has
// claimed. *novel.Controller implements it.
type UnclaimedLister interface {
	Unclaimed(ctx context.Context) ([]novel.JobSummary, error)
}

// Recover queues every unclaimed job: pending jobs are started and
// accepted decisions are continued. It returns how many were queued.
// Queuing a job twice is harmless since only one invocation can claim it.
func (r *Runner) Recover(ctx context.Context, jobs UnclaimedLister) (int, error) {
	unclaimed, err := jobs.Unclaimed(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unclaimed jobs: %w", err)
	}
	queued := 0
	for _, j := range unclaimed {
		if j.Status == novel.Pending().String() {
			err = r.Start(ctx, j.ID)
		} else {
			err = r.Continue(ctx, j.ID)
		}
		if err != nil {
			return queued, fmt.Errorf("requeue job %s: %w", j.ID, err)
		}
		r.logger.Info("job requeued", "job_id", j.ID, "status", j.Status)
		queued++
	}
	return queued, nil
}

// Active returns the number of invocations currently executing.
func (r *Runner) Active() int {
	return int(r.active.Load())
}

func (r *Runner) enqueue(ctx context.Context, t task) error {
	if err := r.Ready(); err != nil {
		return err
	}
	select {
	case r.queue <- t:
		return nil
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve executes queued invocations until ctx is done and then waits for
// the running ones. Jobs interrupted by shutdown are persisted as failed.
func (r *Runner) Serve(ctx context.Context) error {
	defer close(r.stopped)

	var g errgroup.Group
	g.SetLimit(r.limit)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case t := <-r.queue:
			g.Go(func() error {
				r.execute(ctx, t)
				return nil
			})
		}
	}
}

func (r *Runner) execute(ctx context.Context, t task) {
	r.active.Add(1)
	defer r.active.Add(-1)

	var (
		status novel.Status
		err    error
	)
	if t.resume {
		status, err = r.jobs.Continue(ctx, t.jobID, r.policy)
	} else {
		status, err = r.jobs.Run(ctx, t.jobID, r.policy)
	}

	switch {
	case errors.Is(err, novel.ErrPrecondition):
		// Another invocation claimed the job first.
		r.logger.Warn("job invocation skipped", "job_id", t.jobID, "error", err)
	case err != nil:
		r.logger.Error("job invocation failed", "job_id", t.jobID, "status", status.String(), "error", err)
	default:
		r.logger.Info("job invocation finished", "job_id", t.jobID, "status", status.String())
	}
}
