// Package natshook is a conveyor extension that publishes terminal job
// states and dead letter submissions to NATS.
//
// Subjects:
//
//	conveyor.job.completed
//	conveyor.job.dead
//	conveyor.job.cancelled
//	conveyor.deadletter.submitted
//
// Each message is a JSON document carrying the tenant and job identifiers.
// Publish failures are logged and never affect the job outcome.
//
//	nc, err := natshook.Connect(os.Getenv("NATS_URL"))
//	if err != nil { ... }
//	defer nc.Close()
//	eng, _ := engine.Build(c, engine.WithExtension(natshook.New(nc)))
package natshook
