package natshook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.JobCompleted        = (*Extension)(nil)
	_ ext.JobDead             = (*Extension)(nil)
	_ ext.JobCancelled        = (*Extension)(nil)
	_ ext.DeadLetterSubmitted = (*Extension)(nil)

	_ Publisher = (*nats.Conn)(nil)
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	opts = append([]nats.Option{
		nats.Name("conveyor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natshook: connect: %w", err)
	}
	return nc, nil
}

// Extension publishes lifecycle notifications to NATS.
type Extension struct {
	pub     Publisher
	prefix  string
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// New creates an Extension publishing through pub.
func New(pub Publisher, opts ...Option) *Extension {
	e := &Extension{
		pub:    pub,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "nats-hook" }

// JobMessage is published for terminal job states.
type JobMessage struct {
	JobID        string    `json:"job_id"`
	TenantID     string    `json:"tenant_id"`
	JobType      string    `json:"job_type"`
	State        job.State `json:"state"`
	Attempt      int       `json:"attempt"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ElapsedMs    int64     `json:"elapsed_ms,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// DeadLetterMessage is published for dead letter submissions.
type DeadLetterMessage struct {
	EntryID       string    `json:"entry_id"`
	TenantID      string    `json:"tenant_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message"`
	FailureCount  int       `json:"failure_count"`
	Deduped       bool      `json:"deduped"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newJobMessage(j *job.Job) *JobMessage {
	return &JobMessage{
		JobID:        j.ID.String(),
		TenantID:     j.TenantID,
		JobType:      j.Type,
		State:        j.State,
		Attempt:      j.Attempt,
		RetryCount:   j.RetryCount,
		ErrorMessage: j.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	}
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	msg := newJobMessage(j)
	msg.ElapsedMs = elapsed.Milliseconds()
	e.publish(SubjectJobCompleted, j.ID.String(), msg)
	return nil
}

// OnJobDead implements ext.JobDead.
func (e *Extension) OnJobDead(_ context.Context, j *job.Job) error {
	e.publish(SubjectJobDead, j.ID.String(), newJobMessage(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(_ context.Context, j *job.Job) error {
	e.publish(SubjectJobCancelled, j.ID.String(), newJobMessage(j))
	return nil
}

// OnDeadLetterSubmitted implements ext.DeadLetterSubmitted.
func (e *Extension) OnDeadLetterSubmitted(_ context.Context, entry *dlq.Entry, deduped bool) error {
	e.publish(SubjectDeadLetterSubmitted, entry.ID.String(), &DeadLetterMessage{
		EntryID:       entry.ID.String(),
		TenantID:      entry.TenantID,
		CorrelationID: entry.CorrelationID,
		Stage:         entry.Stage,
		ErrorCode:     entry.ErrorCode,
		ErrorMessage:  entry.ErrorMessage,
		FailureCount:  entry.FailureCount,
		Deduped:       deduped,
		OccurredAt:    time.Now().UTC(),
	})
	return nil
}

func (e *Extension) publish(subject, resourceID string, msg any) {
	if e.enabled != nil && !e.enabled[subject] {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("nats_hook: marshal message", "subject", subject, "resource_id", resourceID, "error", err)
		return
	}
	if err := e.pub.Publish(e.prefix+subject, data); err != nil {
		e.logger.Warn("nats_hook: publish failed", "subject", e.prefix+subject, "resource_id", resourceID, "error", err)
	}
}
