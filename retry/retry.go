// Package retry decides what happens to a job whose handler failed: it is
// either rescheduled with backoff or marked dead once its retry budget is
// spent. Every write is guarded by the caller's lease, so a report from a
// worker that no longer owns the job changes nothing.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/job"
)

// Outcome is the decision taken for a failed job.
type Outcome string

const (
	// OutcomeRetrying means the job went back to pending with a delay.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeDead means the job exhausted its retries.
	OutcomeDead Outcome = "dead"
)

// DefaultErrorMessage is recorded when a failure carries no message.
const DefaultErrorMessage = "unknown error"

// Result describes the decision and the job as written.
type Result struct {
	Outcome   Outcome
	Job       *job.Job
	NextRunAt time.Time
}

// Emitter receives retry decisions. ext.Registry implements it.
type Emitter interface {
	EmitJobRetrying(ctx context.Context, j *job.Job, retry int, nextRunAt time.Time)
	EmitJobDead(ctx context.Context, j *job.Job)
}

// Accountant applies the retry policy.
type Accountant struct {
	store    job.Store
	strategy backoff.Strategy
	events   Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithBackoff sets the delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(a *Accountant) { a.strategy = s }
}

// WithEmitter sets the lifecycle sink.
func WithEmitter(e Emitter) Option {
	return func(a *Accountant) { a.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accountant) { a.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// New creates an Accountant over store.
func New(store job.Store, opts ...Option) *Accountant {
	a := &Accountant{
		store:    store,
		strategy: backoff.DefaultStrategy(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fail records a failed execution of the job held by lease.
//
// With next = RetryCount+1, the job is rescheduled at now+Delay(next) when
// next <= MaxRetries. Otherwise it is marked dead with RetryCount left at
// MaxRetries. conveyor.ErrLeaseLost is returned when the lease no longer
// owns the job.
func (a *Accountant) Fail(ctx context.Context, lease job.Lease, errMsg, errStack string) (*Result, error) {
	j, err := a.store.GetJob(ctx, lease.JobID)
	if err != nil {
		return nil, err
	}
	if !lease.Owns(j) {
		return nil, conveyor.ErrLeaseLost
	}
	if errMsg == "" {
		errMsg = DefaultErrorMessage
	}

	now := a.now().UTC()
	next := j.RetryCount + 1

	if next <= j.MaxRetries {
		runAt := now.Add(a.strategy.Delay(next))
		if err := a.store.RetryJob(ctx, lease, job.RetryUpdate{
			RetryCount:   next,
			ScheduledFor: runAt,
			ErrorMessage: errMsg,
			ErrorStack:   errStack,
			At:           now,
		}); err != nil {
			return nil, err
		}

		j.State = job.StatePending
		j.RetryCount = next
		j.ScheduledFor = runAt
		j.ErrorMessage = errMsg
		j.ErrorStack = errStack
		j.LastErrorAt = &now
		j.UpdatedAt = now

		a.logger.Warn("job failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("tenant_id", j.TenantID),
			slog.Int("retry", next),
			slog.Int("max_retries", j.MaxRetries),
			slog.Time("next_run_at", runAt),
			slog.String("error", errMsg),
		)
		if a.events != nil {
			a.events.EmitJobRetrying(ctx, j, next, runAt)
		}
		return &Result{Outcome: OutcomeRetrying, Job: j, NextRunAt: runAt}, nil
	}

	if err := a.store.BuryJob(ctx, lease, job.DeadUpdate{
		ErrorMessage: errMsg,
		ErrorStack:   errStack,
		At:           now,
	}); err != nil {
		return nil, err
	}

	j.State = job.StateDead
	j.RetryCount = j.MaxRetries
	j.ErrorMessage = errMsg
	j.ErrorStack = errStack
	j.LastErrorAt = &now
	j.CompletedAt = &now
	j.UpdatedAt = now

	a.logger.Error("job dead",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.Int("retries", j.RetryCount),
		slog.String("error", errMsg),
	)
	if a.events != nil {
		a.events.EmitJobDead(ctx, j)
	}
	return &Result{Outcome: OutcomeDead, Job: j}, nil
}
