// Package engine wires all Conveyor subsystems together. It creates the
// extension registry, job registry, retry accountant, dead letter service,
// middleware chain, worker pool, reaper, archiver and cron scheduler, and
// provides the public job operations: Enqueue, ClaimNext, MarkCompleted,
// MarkFailed, Release, Cancel, CancelTenant, Get, List, Count and the
// tenant status mirror.
//
// This package exists to break the import cycle: the root conveyor package
// defines Entity and the sentinel errors (imported by job, dlq, etc.) and
// so cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
//
//	c, _ := conveyor.New(conveyor.WithStore(memory.New()))
//	eng, _ := engine.Build(c)
//	engine.Register(eng, job.NewDefinition(job.TypeSendMessage, sendMessage))
//	_ = eng.Start(ctx)
//	_, _ = engine.Enqueue(ctx, eng, "acme", job.TypeSendMessage, msg)
package engine
