package middleware

import (
	"context"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

// Tenant returns middleware that attaches the job's tenant to the context
// so handlers can read it with tenant.FromContext.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(tenant.WithID(ctx, j.TenantID))
	}
}
