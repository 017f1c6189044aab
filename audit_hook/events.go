package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued         = "job.enqueued"
	ActionJobStarted          = "job.started"
	ActionJobCompleted        = "job.completed"
	ActionJobRetrying         = "job.retrying"
	ActionJobDead             = "job.dead"
	ActionJobCancelled        = "job.cancelled"
	ActionJobReaped           = "job.reaped"
	ActionDeadLetterSubmitted = "deadletter.submitted"
	ActionDeadLetterResolved  = "deadletter.resolved"
	ActionCronFired           = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob        = "conveyor.job"
	CategoryDeadLetter = "conveyor.deadletter"
	CategoryCron       = "conveyor.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob        = "job"
	ResourceDeadLetter = "dead_letter"
	ResourceCron       = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobDead,
		ActionJobCancelled,
		ActionJobReaped,
		ActionDeadLetterSubmitted,
		ActionDeadLetterResolved,
		ActionCronFired,
	}
}
