// Package ext defines the extension system for Conveyor.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, publishing notifications, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobDead(ctx context.Context, j *job.Job) error {
//	    alerting.Page(ctx, j.TenantID, j.ErrorMessage)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted
//   - [JobStarted]: job was claimed
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: job failed and was rescheduled
//   - [JobDead]: job failed with no retries remaining
//   - [JobCancelled]: job was cancelled
//   - [JobReaped]: an expired lease was reclaimed
//
// # Dead Letter Hooks
//
//   - [DeadLetterSubmitted]: a failure was recorded or deduplicated
//   - [DeadLetterResolved]: an entry was resolved
//
// # Other Hooks
//
//   - [CronFired]: a cron entry was triggered and a job was enqueued
//   - [Shutdown]: the conveyor is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never returned to the caller.
package ext
