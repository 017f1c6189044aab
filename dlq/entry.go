package dlq

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// Status is the lifecycle status of a dead letter entry.
type Status string

const (
	// StatusPending entries are waiting for a retry or an operator.
	StatusPending Status = "pending"
	// StatusRetrying entries are claimed by a retry consumer.
	StatusRetrying Status = "retrying"
	// StatusResolved entries were fixed or acknowledged.
	StatusResolved Status = "resolved"
	// StatusArchived entries aged out or failed too often.
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// StageJobDead is the stage recorded for entries forwarded from dead jobs.
const StageJobDead = "job.dead"

// Entry is a failed processing attempt kept for inspection, retry or
// replay. Repeated identical failures collapse into one entry whose
// FailureCount grows.
type Entry struct {
	conveyor.Entity

	ID            id.EntryID `json:"id"`
	TenantID      string     `json:"tenant_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Payload       []byte     `json:"-"` // opaque; see PayloadEncodingBase64
	ContentHash   string     `json:"content_hash"`
	ErrorMessage  string     `json:"error_message"`
	ErrorCode     string     `json:"error_code,omitempty"`
	Stack         string     `json:"stack,omitempty"`
	Stage         string     `json:"stage,omitempty"`
	JobType       string     `json:"job_type,omitempty"`
	JobID         string     `json:"job_id,omitempty"`
	FailureCount  int        `json:"failure_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	Status        Status     `json:"status"`

	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
}

// Submission is the input to Service.Submit.
type Submission struct {
	TenantID      string `json:"tenant_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Payload       []byte `json:"-"`
	ErrorMessage  string `json:"error_message"`
	ErrorCode     string `json:"error_code,omitempty"`
	Stack         string `json:"stack,omitempty"`
	Stage         string `json:"stage,omitempty"`
	JobType       string `json:"job_type,omitempty"`
	JobID         string `json:"job_id,omitempty"`
}

// Stats summarizes the entries of one tenant, or of all tenants.
type Stats struct {
	Counts          map[Status]int64 `json:"counts"`
	Total           int64            `json:"total"`
	AvgFailureCount float64          `json:"avg_failure_count"`
	Oldest          *time.Time       `json:"oldest,omitempty"`
	Newest          *time.Time       `json:"newest,omitempty"`
}

// ContentHash returns the hex xxhash64 digest of payload.
func ContentHash(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// DedupKey returns the key under which identical submissions collapse.
func DedupKey(tenantID, correlationID, contentHash string) string {
	return tenantID + "|" + correlationID + "|" + contentHash
}

// DedupKey returns the dedup key of the entry.
func (e *Entry) DedupKey() string {
	return DedupKey(e.TenantID, e.CorrelationID, e.ContentHash)
}

// Matches reports whether e absorbs other, a fresh submission whose
// CreatedAt is the submission time.
func (e *Entry) Matches(other *Entry, window time.Duration) bool {
	return e.Status == StatusPending &&
		e.DedupKey() == other.DedupKey() &&
		e.CreatedAt.After(other.CreatedAt.Add(-window))
}
