package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ClaimOpts selects which pending job ClaimJob may hand out.
type ClaimOpts struct {
	// Types restricts claims to these job types. Empty means any type.
	Types []string
	// TenantID restricts claims to one tenant. Empty means any tenant.
	TenantID string
	// Now is the claim time; it becomes StartedAt.
	Now time.Time
}

// RetryUpdate is written by the retry accountant when a failed job goes
// back to pending.
type RetryUpdate struct {
	RetryCount   int
	ScheduledFor time.Time
	ErrorMessage string
	ErrorStack   string
	At           time.Time
}

// DeadUpdate is written by the retry accountant when a failed job has no
// retries left.
type DeadUpdate struct {
	ErrorMessage string
	ErrorStack   string
	At           time.Time
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// Type filters by job type. Empty means all types.
	Type string
	// State filters by job state. Empty means all states.
	State State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	TenantID string
	Type     string
	State    State
}

// Store defines the persistence contract for jobs.
//
// Every method that takes a Lease is a compare-and-set on
// (id, state=processing, attempt): it returns conveyor.ErrLeaseLost and
// changes nothing when the job exists but the lease no longer owns it,
// and conveyor.ErrJobNotFound when the job does not exist.
type Store interface {
	// EnqueueJob persists a new pending job. It returns
	// conveyor.ErrJobAlreadyExists when the ID, or the (tenant, unique key)
	// pair, is already taken.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically selects the most urgent eligible pending job
	// whose tenant is active, moves it to processing, sets StartedAt and
	// increments Attempt. Candidates locked by a concurrent claim are
	// skipped, never waited on. It returns (nil, nil) when nothing is
	// eligible.
	ClaimJob(ctx context.Context, opts ClaimOpts) (*Job, error)

	// CompleteJob moves a processing job to completed and stores result.
	CompleteJob(ctx context.Context, lease Lease, result []byte, at time.Time) error

	// RetryJob moves a processing job back to pending with a new schedule.
	RetryJob(ctx context.Context, lease Lease, u RetryUpdate) error

	// BuryJob moves a processing job to dead.
	BuryJob(ctx context.Context, lease Lease, u DeadUpdate) error

	// ReleaseJob moves a processing job back to pending at runAt without
	// consuming a retry.
	ReleaseJob(ctx context.Context, lease Lease, runAt time.Time) error

	// CancelJob moves a pending or processing job to cancelled and returns
	// the updated job. Terminal jobs yield conveyor.ErrInvalidState.
	CancelJob(ctx context.Context, jobID id.JobID, at time.Time) (*Job, error)

	// CancelTenantJobs cancels every pending job of a tenant.
	CancelTenantJobs(ctx context.Context, tenantID string, at time.Time) (int64, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByUniqueKey retrieves a job by its producer-supplied key.
	GetJobByUniqueKey(ctx context.Context, tenantID, key string) (*Job, error)

	// ListJobs returns jobs matching opts, oldest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// ListExpiredLeases returns up to limit processing jobs whose
	// StartedAt is before startedBefore.
	ListExpiredLeases(ctx context.Context, startedBefore time.Time, limit int) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
