// Package worker provides the in-process job runner: an Executor that
// invokes registered handlers through middleware and reports the outcome
// under the job's lease, and a Pool that manages concurrent worker
// goroutines claiming jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/retry"
)

// Lifecycle is the lease-guarded job API driven by the worker.
// *engine.Engine implements it; remote handlers reach the same operations
// over HTTP.
type Lifecycle interface {
	ClaimNext(ctx context.Context, opts job.ClaimOpts) (*job.Job, bool, error)
	MarkCompleted(ctx context.Context, lease job.Lease, result []byte) error
	MarkFailed(ctx context.Context, lease job.Lease, errMsg, errStack string) (*retry.Result, error)
	Release(ctx context.Context, lease job.Lease, delay time.Duration) error
	Get(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// errShuttingDown is the cancellation cause used when the pool gives up
// waiting for a handler during shutdown.
var errShuttingDown = errors.New("worker pool shutting down")

// Executor runs a single claimed job through middleware and the registered
// handler, then reports the outcome with the job's lease.
type Executor struct {
	registry  *job.Registry
	lifecycle Lifecycle
	mw        middleware.Middleware
	logger    *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	lifecycle Lifecycle,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:  registry,
		lifecycle: lifecycle,
		mw:        middleware.Chain(mws...),
		logger:    logger,
	}
}

// Registry returns the handler registry the executor dispatches to.
func (e *Executor) Registry() *job.Registry { return e.registry }

// Execute runs a claimed job.
//
// On success the result is stored with MarkCompleted. A result the
// lifecycle rejects as invalid counts as a failed attempt. On failure the
// error and any recovered panic stack go to MarkFailed, which retries or
// buries the job. When ctx was cancelled because the lease was lost, nothing is
// reported. When it was cancelled by shutdown, the job is released without
// consuming a retry.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	lease := j.Lease()
	// Outcome writes must not be cut short by the handler's deadline.
	reportCtx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", conveyor.ErrNoHandler, j.Type)
		if _, failErr := e.lifecycle.MarkFailed(reportCtx, lease, err.Error(), ""); failErr != nil {
			return failErr
		}
		return err
	}

	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, j.Payload)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	err := e.mw(ctx, j, terminal)

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, conveyor.ErrLeaseLost):
		e.logger.Info("job lease lost during execution, dropping outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempt),
		)
		return conveyor.ErrLeaseLost
	case errors.Is(cause, errShuttingDown):
		if relErr := e.lifecycle.Release(reportCtx, lease, 0); relErr != nil && !errors.Is(relErr, conveyor.ErrLeaseLost) {
			e.logger.Error("failed to release job on shutdown",
				slog.String("job_id", j.ID.String()),
				slog.String("error", relErr.Error()),
			)
			return relErr
		}
		return errShuttingDown
	}

	if err != nil {
		return e.fail(reportCtx, j, lease, err)
	}

	if doneErr := e.lifecycle.MarkCompleted(reportCtx, lease, result); doneErr != nil {
		if errors.Is(doneErr, conveyor.ErrLeaseLost) {
			e.logger.Info("job finished after its lease was lost",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Int("attempt", j.Attempt),
			)
			return doneErr
		}
		if errors.Is(doneErr, conveyor.ErrInvalidRequest) {
			return e.fail(reportCtx, j, lease, fmt.Errorf("handler returned an unusable result: %w", doneErr))
		}
		e.logger.Error("failed to mark job completed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", doneErr.Error()),
		)
		return doneErr
	}
	return nil
}

// fail reports a handler error and returns it wrapped with the decision.
func (e *Executor) fail(ctx context.Context, j *job.Job, lease job.Lease, handlerErr error) error {
	res, err := e.lifecycle.MarkFailed(ctx, lease, handlerErr.Error(), middleware.StackOf(handlerErr))
	if err != nil {
		if !errors.Is(err, conveyor.ErrLeaseLost) {
			e.logger.Error("failed to record job failure",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	return fmt.Errorf("job %s %s after attempt %d: %w", j.Type, res.Outcome, j.Attempt, handlerErr)
}
