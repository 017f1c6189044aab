// Package job defines the job entity, its state machine, the lease token,
// typed definitions and the store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work owned by one tenant. It embeds
// [conveyor.Entity] for timestamps, carries a JSON payload, and moves
// through a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry or release) → processing → ...
//	pending → processing → dead
//	pending|processing → cancelled
//
// Fields of note:
//   - Priority: lower values are claimed first, range [-100, 100]
//   - ScheduledFor / NotBefore: earliest claim time is the later of the two
//   - MaxRetries / RetryCount: retry budget; RetryCount never exceeds MaxRetries
//   - Attempt: incremented by every claim; part of the [Lease]
//   - UniqueKey: per-tenant idempotency key
//
// # Leases
//
// A claim hands the worker a [Lease] (job ID plus attempt). Every write
// that finishes a claim is conditional on the lease still owning the job,
// so a worker whose job was reaped or cancelled cannot overwrite the newer
// state.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendMessage = job.NewDefinition(job.TypeSendMessage,
//	    func(ctx context.Context, in OutboundMessage) error {
//	        return channels.Send(ctx, in)
//	    },
//	    job.WithMaxRetries(5),
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]; the engine
// package provides engine.Register and engine.Enqueue wrappers.
package job
