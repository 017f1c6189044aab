package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed.
	StatePending State = "pending"
	// StateProcessing means a worker holds the job's lease.
	StateProcessing State = "processing"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateDead means the job exhausted its retries.
	StateDead State = "dead"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDead || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateDead, StateCancelled:
		return true
	}
	return false
}

// Job represents a unit of work owned by a single tenant.
type Job struct {
	conveyor.Entity

	ID           id.JobID        `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	State        State           `json:"state"`
	UniqueKey    string          `json:"unique_key,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	NotBefore    *time.Time      `json:"not_before,omitempty"`
	MaxRetries   int             `json:"max_retries"`
	RetryCount   int             `json:"retry_count"`
	Attempt      int             `json:"attempt"`
	DeadLetter   bool            `json:"dead_letter,omitempty"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorStack   string          `json:"error_stack,omitempty"`
	LastErrorAt  *time.Time      `json:"last_error_at,omitempty"`
}

// Lease returns the token that identifies the current claim of the job.
func (j *Job) Lease() Lease {
	return Lease{JobID: j.ID, Attempt: j.Attempt}
}

// EligibleAt returns the earliest time the job may be claimed: the later
// of ScheduledFor and NotBefore.
func (j *Job) EligibleAt() time.Time {
	if j.NotBefore != nil && j.NotBefore.After(j.ScheduledFor) {
		return *j.NotBefore
	}
	return j.ScheduledFor
}

// Eligible reports whether a pending job may be claimed at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StatePending && !j.EligibleAt().After(now)
}

// LeaseExpiry returns the time the current lease expires for the given
// lease timeout, or the zero time when the job is not processing.
func (j *Job) LeaseExpiry(timeout time.Duration) time.Time {
	if j.State != StateProcessing || j.StartedAt == nil {
		return time.Time{}
	}
	return j.StartedAt.Add(timeout)
}

// Lease is the caller-visible ownership token of a claimed job. Attempt
// is incremented by every claim, so a token issued before a reap or a
// cancellation no longer matches the stored job.
type Lease struct {
	JobID   id.JobID `json:"job_id"`
	Attempt int      `json:"attempt"`
}

// Owns reports whether the lease still owns j.
func (l Lease) Owns(j *Job) bool {
	return j != nil &&
		j.ID.String() == l.JobID.String() &&
		j.State == StateProcessing &&
		j.Attempt == l.Attempt
}
