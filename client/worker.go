package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/middleware"
)

// HandlerFunc processes one claimed job. The returned result, if any, is
// stored on the completed job.
type HandlerFunc func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Worker runs handlers in a remote process: it claims jobs over HTTP,
// executes them and reports the outcome under the claim's lease.
type Worker struct {
	client       *Client
	handlers     map[string]HandlerFunc
	types        []string
	tenantID     string
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger
	chain        middleware.Middleware
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the number of claim loops. Default 1.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) { w.concurrency = n }
}

// WithPollInterval sets the wait after an empty claim. Default 1s.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithWorkerTenant restricts claims to one tenant.
func WithWorkerTenant(tenantID string) WorkerOption {
	return func(w *Worker) { w.tenantID = tenantID }
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker for the given job types.
func NewWorker(c *Client, handlers map[string]HandlerFunc, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:       c,
		handlers:     handlers,
		concurrency:  1,
		pollInterval: time.Second,
		logger:       c.logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	for t := range handlers {
		w.types = append(w.types, t)
	}
	w.chain = middleware.Chain(
		middleware.Recover(w.logger),
		middleware.Tenant(),
		middleware.Timeout(0, w.logger),
	)
	return w
}

// Run claims and executes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("%w: worker has no handlers", conveyor.ErrInvalidConfig)
	}
	g, ctx := errgroup.WithContext(ctx)
	for range max(w.concurrency, 1) {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("remote worker iteration failed", slog.String("error", err.Error()))
		}
		if claimed && err == nil {
			continue
		}
		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessOne claims at most one job and runs it. claimed reports whether a
// job was leased. A lease lost while the handler ran is reported as
// conveyor.ErrLeaseLost.
func (w *Worker) ProcessOne(ctx context.Context) (claimed bool, err error) {
	j, lease, ok, err := w.client.Claim(ctx, w.tenantID, w.types...)
	if err != nil || !ok {
		return false, err
	}

	var result json.RawMessage
	runErr := w.chain(ctx, j, func(ctx context.Context) error {
		h, ok := w.handlers[j.Type]
		if !ok {
			return fmt.Errorf("%w: %s", conveyor.ErrNoHandler, j.Type)
		}
		var err error
		result, err = h(ctx, j)
		return err
	})

	// Report even if ctx was cancelled mid-job.
	rctx := context.WithoutCancel(ctx)
	if runErr != nil {
		res, err := w.client.Fail(rctx, lease, runErr.Error(), middleware.StackOf(runErr))
		if err != nil {
			return true, w.reportErr(j, err)
		}
		w.logger.Info("remote job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", lease.Attempt),
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", runErr.Error()),
		)
		return true, nil
	}
	if err := w.client.Complete(rctx, lease, result); err != nil {
		return true, w.reportErr(j, err)
	}
	return true, nil
}

func (w *Worker) reportErr(j *job.Job, err error) error {
	if errors.Is(err, conveyor.ErrLeaseLost) {
		w.logger.Warn("lease lost before report",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
	}
	return err
}
