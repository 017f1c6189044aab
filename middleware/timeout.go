package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// The job's own Timeout wins; fallback applies when it is zero, and a zero
// fallback means no deadline. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(fallback time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
