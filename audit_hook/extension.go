package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.JobEnqueued         = (*Extension)(nil)
	_ ext.JobStarted          = (*Extension)(nil)
	_ ext.JobCompleted        = (*Extension)(nil)
	_ ext.JobRetrying         = (*Extension)(nil)
	_ ext.JobDead             = (*Extension)(nil)
	_ ext.JobCancelled        = (*Extension)(nil)
	_ ext.JobReaped           = (*Extension)(nil)
	_ ext.DeadLetterSubmitted = (*Extension)(nil)
	_ ext.DeadLetterResolved  = (*Extension)(nil)
	_ ext.CronFired           = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	TenantID   string         `json:"tenant_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f(ctx, event).
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges conveyor lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// event describes one audit record before metadata is attached.
type event struct {
	action, severity, outcome string
	resource, category        string
	tenantID, resourceID      string
	reason                    string
}

func jobEvent(action, severity, outcome string, j *job.Job) event {
	return event{
		action:     action,
		severity:   severity,
		outcome:    outcome,
		resource:   ResourceJob,
		category:   CategoryJob,
		tenantID:   j.TenantID,
		resourceID: j.ID.String(),
	}
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j),
		"job_type", j.Type,
		"priority", j.Priority,
		"scheduled_for", j.ScheduledFor.Format(time.RFC3339),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionJobStarted, SeverityInfo, OutcomeSuccess, j),
		"job_type", j.Type,
		"attempt", j.Attempt,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, jobEvent(ActionJobCompleted, SeverityInfo, OutcomeSuccess, j),
		"job_type", j.Type,
		"attempt", j.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, retry int, nextRunAt time.Time) error {
	ev := jobEvent(ActionJobRetrying, SeverityWarning, OutcomeFailure, j)
	ev.reason = j.ErrorMessage
	return e.record(ctx, ev,
		"job_type", j.Type,
		"retry_count", retry,
		"max_retries", j.MaxRetries,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobDead implements ext.JobDead.
func (e *Extension) OnJobDead(ctx context.Context, j *job.Job) error {
	ev := jobEvent(ActionJobDead, SeverityCritical, OutcomeFailure, j)
	ev.reason = j.ErrorMessage
	return e.record(ctx, ev,
		"job_type", j.Type,
		"retry_count", j.RetryCount,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionJobCancelled, SeverityWarning, OutcomeSuccess, j),
		"job_type", j.Type,
	)
}

// OnJobReaped implements ext.JobReaped.
func (e *Extension) OnJobReaped(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionJobReaped, SeverityWarning, OutcomeFailure, j),
		"job_type", j.Type,
		"attempt", j.Attempt,
	)
}

// ── Dead letter hooks ───────────────────────────────

// OnDeadLetterSubmitted implements ext.DeadLetterSubmitted.
func (e *Extension) OnDeadLetterSubmitted(ctx context.Context, entry *dlq.Entry, deduped bool) error {
	return e.record(ctx, event{
		action:     ActionDeadLetterSubmitted,
		severity:   SeverityWarning,
		outcome:    OutcomeFailure,
		resource:   ResourceDeadLetter,
		category:   CategoryDeadLetter,
		tenantID:   entry.TenantID,
		resourceID: entry.ID.String(),
		reason:     entry.ErrorMessage,
	},
		"stage", entry.Stage,
		"correlation_id", entry.CorrelationID,
		"failure_count", entry.FailureCount,
		"deduped", deduped,
	)
}

// OnDeadLetterResolved implements ext.DeadLetterResolved.
func (e *Extension) OnDeadLetterResolved(ctx context.Context, entry *dlq.Entry) error {
	return e.record(ctx, event{
		action:     ActionDeadLetterResolved,
		severity:   SeverityInfo,
		outcome:    OutcomeSuccess,
		resource:   ResourceDeadLetter,
		category:   CategoryDeadLetter,
		tenantID:   entry.TenantID,
		resourceID: entry.ID.String(),
	},
		"resolved_by", entry.ResolvedBy,
		"notes", entry.ResolutionNotes,
	)
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.record(ctx, event{
		action:     ActionCronFired,
		severity:   SeverityInfo,
		outcome:    OutcomeSuccess,
		resource:   ResourceCron,
		category:   CategoryCron,
		resourceID: entryName,
	},
		"job_id", jobID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged and never returned.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		TenantID:   ev.tenantID,
		ResourceID: ev.resourceID,
		Metadata:   meta,
		Outcome:    ev.outcome,
		Severity:   ev.severity,
		Reason:     ev.reason,
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", ev.action,
			"tenant_id", ev.tenantID,
			"resource_id", ev.resourceID,
			"error", err,
		)
	}
	return nil
}
