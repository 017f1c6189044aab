// Package audithook is a conveyor extension that writes lifecycle events
// to an audit trail.
//
// Job, dead letter and cron hooks each produce an [AuditEvent] carrying the
// tenant, the affected resource and a severity: info for normal progress,
// warning for retries, reaped leases and cancellations, critical for dead
// jobs. Events go to a [Recorder]; [RecorderFunc] adapts a plain function.
//
//	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt.TenantID, evt.Action, evt.ResourceID, evt.Metadata)
//	})
//	eng, _ := engine.Build(c, engine.WithExtension(audithook.New(rec)))
package audithook
