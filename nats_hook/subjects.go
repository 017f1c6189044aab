package natshook

// Default subjects, relative to the configured prefix.
const (
	SubjectJobCompleted        = "job.completed"
	SubjectJobDead             = "job.dead"
	SubjectJobCancelled        = "job.cancelled"
	SubjectDeadLetterSubmitted = "deadletter.submitted"
)

// DefaultPrefix is prepended to every subject.
const DefaultPrefix = "conveyor."

// AllSubjects returns every subject suffix this extension publishes to.
func AllSubjects() []string {
	return []string{
		SubjectJobCompleted,
		SubjectJobDead,
		SubjectJobCancelled,
		SubjectDeadLetterSubmitted,
	}
}
