package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

var _ dlq.Events = (*Registry)(nil)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeadEntry struct {
	name string
	hook JobDead
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type jobReapedEntry struct {
	name string
	hook JobReaped
}

type deadLetterSubmittedEntry struct {
	name string
	hook DeadLetterSubmitted
}

type deadLetterResolvedEntry struct {
	name string
	hook DeadLetterResolved
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the emitters; register
// every extension before starting the engine.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued         []jobEnqueuedEntry
	jobStarted          []jobStartedEntry
	jobCompleted        []jobCompletedEntry
	jobRetrying         []jobRetryingEntry
	jobDead             []jobDeadEntry
	jobCancelled        []jobCancelledEntry
	jobReaped           []jobReapedEntry
	deadLetterSubmitted []deadLetterSubmittedEntry
	deadLetterResolved  []deadLetterResolvedEntry
	cronFired           []cronFiredEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobDead); ok {
		r.jobDead = append(r.jobDead, jobDeadEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(JobReaped); ok {
		r.jobReaped = append(r.jobReaped, jobReapedEntry{name, h})
	}
	if h, ok := e.(DeadLetterSubmitted); ok {
		r.deadLetterSubmitted = append(r.deadLetterSubmitted, deadLetterSubmittedEntry{name, h})
	}
	if h, ok := e.(DeadLetterResolved); ok {
		r.deadLetterResolved = append(r.deadLetterResolved, deadLetterResolvedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, retry int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, retry, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDead notifies all extensions that implement JobDead.
func (r *Registry) EmitJobDead(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDead {
		if err := e.hook.OnJobDead(ctx, j); err != nil {
			r.logHookError("OnJobDead", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobReaped notifies all extensions that implement JobReaped.
func (r *Registry) EmitJobReaped(ctx context.Context, j *job.Job) {
	for _, e := range r.jobReaped {
		if err := e.hook.OnJobReaped(ctx, j); err != nil {
			r.logHookError("OnJobReaped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Dead letter event emitters
// ──────────────────────────────────────────────────

// EmitDeadLetterSubmitted notifies all extensions that implement
// DeadLetterSubmitted.
func (r *Registry) EmitDeadLetterSubmitted(ctx context.Context, entry *dlq.Entry, deduped bool) {
	for _, e := range r.deadLetterSubmitted {
		if err := e.hook.OnDeadLetterSubmitted(ctx, entry, deduped); err != nil {
			r.logHookError("OnDeadLetterSubmitted", e.name, err)
		}
	}
}

// EmitDeadLetterResolved notifies all extensions that implement
// DeadLetterResolved.
func (r *Registry) EmitDeadLetterResolved(ctx context.Context, entry *dlq.Entry) {
	for _, e := range r.deadLetterResolved {
		if err := e.hook.OnDeadLetterResolved(ctx, entry); err != nil {
			r.logHookError("OnDeadLetterResolved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, jobID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
