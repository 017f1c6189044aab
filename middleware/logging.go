package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Logging logs each handler invocation at debug when it starts and once more
// when it ends. A successful run logs at info, a panic at error and any
// other failure at warn, since the retry accountant still owns the job.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("tenant_id", j.TenantID),
			slog.Int("attempt", j.Attempt),
		)
		l.DebugContext(ctx, "job handler started")

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		outcome := Classify(err)
		level := slog.LevelInfo
		switch outcome {
		case OutcomeOK:
		case OutcomePanic:
			level = slog.LevelError
		default:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("outcome", string(outcome)),
			slog.Duration("elapsed", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		l.LogAttrs(ctx, level, "job handler finished", attrs...)
		return err
	}
}
