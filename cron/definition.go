package cron

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/conveyor/job"
)

// Definition is a typed cron definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry. It is part of the
	// unique key of every job the entry produces.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// TenantID owns the produced jobs.
	TenantID string

	// JobType is the type of the job to enqueue on each fire.
	JobType string

	// Payload is the payload enqueued with every job.
	Payload T

	// Opts are applied to every enqueued job (priority, retries, ...).
	Opts []job.Option
}

// Register validates def and adds it to the scheduler.
func Register[T any](s *Scheduler, def *Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}
	return s.Add(&Entry{
		Name:     def.Name,
		Schedule: def.Schedule,
		TenantID: def.TenantID,
		JobType:  def.JobType,
		Payload:  payload,
		Opts:     def.Opts,
		Enabled:  true,
	})
}
