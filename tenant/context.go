package tenant

import "context"

type ctxKey struct{}

// WithID returns a copy of ctx carrying tenantID. Handlers read it back
// with FromContext.
func WithID(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the tenant carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
