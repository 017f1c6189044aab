package cron

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor/job"
)

// Entry represents a scheduled producer.
type Entry struct {
	Name      string       `json:"name"`
	Schedule  string       `json:"schedule"`
	TenantID  string       `json:"tenant_id"`
	JobType   string       `json:"job_type"`
	Payload   []byte       `json:"payload,omitempty"`
	Opts      []job.Option `json:"-"`
	LastRunAt *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt *time.Time   `json:"next_run_at,omitempty"`
	Enabled   bool         `json:"enabled"`
}

// SlotKey is the unique key of the job produced for the fire slot at.
// Replicas firing the same slot produce the same key, so only one job is
// enqueued.
func SlotKey(name string, at time.Time) string {
	return fmt.Sprintf("cron:%s@%d", name, at.Unix())
}
