package ext

import (
	"context"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called after a job is claimed and moved to processing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a failed job is rescheduled. retry is the
// new RetryCount.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, retry int, nextRunAt time.Time) error
}

// JobDead is called when a job exhausts its retries.
type JobDead interface {
	OnJobDead(ctx context.Context, j *job.Job) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobReaped is called when the reaper reclaims an expired lease. j is the
// job as it was before the reaper failed it.
type JobReaped interface {
	OnJobReaped(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Dead letter hooks
// ──────────────────────────────────────────────────

// DeadLetterSubmitted is called after a failure is recorded. deduped is
// true when it was folded into an existing entry.
type DeadLetterSubmitted interface {
	OnDeadLetterSubmitted(ctx context.Context, e *dlq.Entry, deduped bool) error
}

// DeadLetterResolved is called when an entry is resolved.
type DeadLetterResolved interface {
	OnDeadLetterResolved(ctx context.Context, e *dlq.Entry) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
