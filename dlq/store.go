package dlq

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for entry list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// RetryClaim selects entries for NextForRetry.
type RetryClaim struct {
	// TenantID restricts the claim to one tenant. Empty means any tenant.
	TenantID string
	Limit    int
	// MaxFailures excludes entries whose FailureCount reached it.
	MaxFailures int
	// AttemptedBefore excludes entries attempted at or after it.
	AttemptedBefore time.Time
	Now             time.Time
}

// Store defines the persistence contract for dead letter entries.
type Store interface {
	// SubmitDeadLetter stores e unless a pending entry with the same dedup
	// key was created within window before e.CreatedAt. In that case the
	// existing entry's FailureCount is incremented, its error fields and
	// LastAttemptAt are overwritten from e, and it is returned with
	// deduped=true. The check and the write are atomic per dedup key.
	SubmitDeadLetter(ctx context.Context, e *Entry, window time.Duration) (stored *Entry, deduped bool, err error)

	// ClaimDeadLetters atomically moves up to c.Limit eligible pending
	// entries to retrying and returns them, oldest attempt first. Entries
	// locked by a concurrent claim are skipped.
	ClaimDeadLetters(ctx context.Context, c RetryClaim) ([]*Entry, error)

	// FailDeadLetterRetry moves a retrying entry back to pending,
	// increments FailureCount and records errMsg.
	FailDeadLetterRetry(ctx context.Context, entryID id.EntryID, errMsg string, at time.Time) (*Entry, error)

	// ResolveDeadLetter moves a pending or retrying entry to resolved.
	ResolveDeadLetter(ctx context.Context, entryID id.EntryID, notes, resolvedBy string, at time.Time) (*Entry, error)

	// ArchiveDeadLetters moves pending entries created before
	// createdBefore, or whose FailureCount reached maxFailures, to
	// archived. It returns the number of entries archived.
	ArchiveDeadLetters(ctx context.Context, createdBefore time.Time, maxFailures int, at time.Time) (int64, error)

	// DeadLetterStats aggregates entries of tenantID, or all tenants when
	// it is empty.
	DeadLetterStats(ctx context.Context, tenantID string) (*Stats, error)

	// GetDeadLetter retrieves an entry by ID.
	GetDeadLetter(ctx context.Context, entryID id.EntryID) (*Entry, error)

	// ListDeadLetters returns entries matching opts, newest first.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Entry, error)
}
