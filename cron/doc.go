// Package cron provides an in-process scheduled producer.
//
// An [Entry] enqueues a job of JobType for TenantID every time its
// Schedule fires. Schedules are standard 5-field cron expressions or
// descriptors such as "@every 30s" (github.com/robfig/cron/v3).
//
// # Multiple replicas
//
// Every replica may run a [Scheduler]. Each fire is enqueued with the
// unique key "cron:<name>@<slot unix seconds>" ([SlotKey]); the job store
// rejects the duplicates with conveyor.ErrJobAlreadyExists, so a slot
// produces exactly one job without leader election.
//
// # Registering
//
//	cron.Register(sched, &cron.Definition[ReportInput]{
//	    Name:     "acme-daily-report",
//	    Schedule: "0 9 * * *",
//	    TenantID: "acme",
//	    JobType:  job.TypeScheduledReport,
//	    Payload:  ReportInput{Format: "pdf"},
//	})
//
// The ext.CronFired hook fires after each enqueue.
package cron
