// Package middleware wraps job handler invocations.
//
// The engine's default chain, outermost first:
//
//	Tracing → Metrics → Logging → Recover → Tenant → Timeout → handler
//
// Recover converts panics into *PanicError values carrying the stack; the
// retry accountant stores that stack as the job's error_stack. Classify
// reduces a handler error to an Outcome (ok, error, panic, timeout,
// cancelled) which the observing middleware record.
//
// Custom middleware has the same shape:
//
//	func Audit(rec Recorder) middleware.Middleware {
//		return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//			err := next(ctx)
//			rec.Record(j.TenantID, j.Type, middleware.Classify(err))
//			return err
//		}
//	}
package middleware
