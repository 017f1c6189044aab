// Package conveyor is the asynchronous task-execution core of a multi-tenant
// messaging platform. It accepts units of work, hands each one to exactly one
// worker at a time under a lease, retries failures with bounded exponential
// backoff, and isolates permanently failing work in a dead-letter store.
//
// Conveyor is a library first. Import it, pick a store, register handlers
// keyed by job type, and start the engine:
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithConcurrency(20),
//	)
//	eng, err := engine.Build(c)
//	engine.Register(eng, job.NewDefinition("send_message", sendMessage))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, tenant, dlq) defines its own store interface and a
// single backend implements all of them. Claims are a single atomic
// read-modify-write in every backend: FOR UPDATE SKIP LOCKED in Postgres, a
// Lua script in Redis, a mutex in memory. Every claim increments the job's
// attempt counter, and the pair (job id, attempt) is the lease token that
// guards completion, failure, and release.
//
// Remote handlers that do not embed the engine use the HTTP surface in the
// api package instead, usually through client.Worker.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package conveyor
