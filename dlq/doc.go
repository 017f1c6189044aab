// Package dlq provides the dead letter store: a durable record of failed
// processing attempts, whether they come from dead jobs or from pipeline
// stages that fail before any job exists (webhook parsing, for example).
//
// # Entry
//
// An [Entry] captures:
//   - TenantID / CorrelationID: who and what the failure belongs to
//   - Payload / ContentHash: the original input and its xxhash64 digest
//   - ErrorMessage / ErrorCode / Stack / Stage: what went wrong and where
//   - JobType / JobID: set for entries forwarded from dead jobs, enables replay
//   - FailureCount / LastAttemptAt: failure tracking
//   - Status: pending → retrying → pending ... → resolved | archived
//
// # Deduplication
//
// [Service.Submit] collapses identical failures. A submission whose
// tenant, correlation ID and payload hash match a pending entry created
// within the dedup window increments that entry's FailureCount instead
// of creating a new one. The check-and-write is atomic per key in every
// store.
//
// # Retries
//
// [Service.NextForRetry] hands out pending entries below the failure cap
// whose last attempt is older than the cooldown, moving them to retrying
// so two consumers never retry the same entry. A consumer reports the
// outcome with [Service.Resolve] or [Service.RetryFailed].
//
// # Replay and archiving
//
// [Service.Replay] re-enqueues an entry as a fresh job. [Archiver] runs
// [Service.Archive] on an interval.
package dlq
