package middleware

import (
	"context"

	"github.com/xraph/conveyor/job"
)

// Handler is the innermost call of a chain: the registered job logic bound
// to its payload.
type Handler func(ctx context.Context) error

// Middleware runs around one handler invocation for job j. It must call next
// exactly once unless it deliberately short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws so that mws[0] is the outermost wrapper:
//
//	Chain(recover, tenant, timeout) runs recover → tenant → timeout → handler
//
// A nil entry is skipped, which lets callers build chains from optional
// pieces.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			h = bind(mws[i], j, h)
		}
		return h(ctx)
	}
}

func bind(mw Middleware, j *job.Job, next Handler) Handler {
	if mw == nil {
		return next
	}
	return func(ctx context.Context) error { return mw(ctx, j, next) }
}
