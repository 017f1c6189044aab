package engine

import (
	"context"
	"log/slog"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// ErrorCodeRetriesExhausted is the error code of dead letter entries
// created for dead jobs.
const ErrorCodeRetriesExhausted = "retries_exhausted"

// DeadLetterForwarder submits dead jobs to the dead letter store, either
// every dead job or only those enqueued with job.WithDeadLetter.
type DeadLetterForwarder struct {
	svc    *dlq.Service
	policy conveyor.DeadJobPolicy
	logger *slog.Logger
}

var (
	_ ext.Extension = (*DeadLetterForwarder)(nil)
	_ ext.JobDead   = (*DeadLetterForwarder)(nil)
)

// NewDeadLetterForwarder creates a forwarder for policy.
func NewDeadLetterForwarder(svc *dlq.Service, policy conveyor.DeadJobPolicy, logger *slog.Logger) *DeadLetterForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterForwarder{svc: svc, policy: policy, logger: logger}
}

// Name implements ext.Extension.
func (f *DeadLetterForwarder) Name() string { return "dead-letter-forwarder" }

// OnJobDead implements ext.JobDead.
func (f *DeadLetterForwarder) OnJobDead(ctx context.Context, j *job.Job) error {
	switch f.policy {
	case conveyor.DeadJobForwardAll:
	case conveyor.DeadJobOptIn:
		if !j.DeadLetter {
			return nil
		}
	default:
		return nil
	}

	e, deduped, err := f.svc.Submit(ctx, dlq.Submission{
		TenantID:      j.TenantID,
		CorrelationID: j.ID.String(),
		Payload:       j.Payload,
		ErrorMessage:  j.ErrorMessage,
		ErrorCode:     ErrorCodeRetriesExhausted,
		Stack:         j.ErrorStack,
		Stage:         dlq.StageJobDead,
		JobType:       j.Type,
		JobID:         j.ID.String(),
	})
	if err != nil {
		return err
	}
	f.logger.Info("dead job forwarded to dead letter store",
		slog.String("job_id", j.ID.String()),
		slog.String("entry_id", e.ID.String()),
		slog.Bool("deduped", deduped),
	)
	return nil
}
