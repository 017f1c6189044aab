package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conveyor/job"
)

// PanicError is returned by Recover when a handler panics. Stack holds the
// goroutine stack captured at the panic site and ends up in the job's
// error_stack.
type PanicError struct {
	JobType string
	Value   any
	Stack   string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobType, e.Value)
}

// StackOf returns the stack carried by err if it wraps a PanicError.
func StackOf(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	return ""
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_type", j.Type),
					slog.String("job_id", j.ID.String()),
					slog.String("tenant_id", j.TenantID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{JobType: j.Type, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
