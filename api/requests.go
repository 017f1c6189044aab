package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/retry"
	"github.com/xraph/conveyor/tenant"
)

// ── Jobs ──

// EnqueueRequest is the body of POST /v1/jobs. Unset fields fall back to
// the options registered for the job type.
type EnqueueRequest struct {
	TenantID   string          `json:"tenant_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	TimeoutMs  int64           `json:"timeout_ms,omitempty"`
	RunAt      *time.Time      `json:"run_at,omitempty"`
	NotBefore  *time.Time      `json:"not_before,omitempty"`
	UniqueKey  string          `json:"unique_key,omitempty"`
	DeadLetter bool            `json:"dead_letter,omitempty"`
}

// options converts the request into job options.
func (req *EnqueueRequest) options() []job.Option {
	var opts []job.Option
	if req.Priority != nil {
		opts = append(opts, job.WithPriority(*req.Priority))
	}
	if req.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*req.MaxRetries))
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	if req.RunAt != nil {
		opts = append(opts, job.WithRunAt(*req.RunAt))
	}
	if req.NotBefore != nil {
		opts = append(opts, job.WithNotBefore(*req.NotBefore))
	}
	if req.UniqueKey != "" {
		opts = append(opts, job.WithUniqueKey(req.UniqueKey))
	}
	if req.DeadLetter {
		opts = append(opts, job.WithDeadLetter())
	}
	return opts
}

// EnqueueResponse is returned by POST /v1/jobs. Created is false when a
// job with the same unique key already existed and was returned instead.
type EnqueueResponse struct {
	Job     *job.Job `json:"job"`
	Created bool     `json:"created"`
}

// ClaimRequest is the body of POST /v1/claims.
type ClaimRequest struct {
	Types    []string `json:"types,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
}

// ClaimResponse carries the claimed job and the lease that must accompany
// every later report.
type ClaimResponse struct {
	Job   *job.Job  `json:"job"`
	Lease job.Lease `json:"lease"`
}

// CompleteRequest is the body of POST /v1/jobs/{id}/complete.
type CompleteRequest struct {
	Attempt int             `json:"attempt"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// FailRequest is the body of POST /v1/jobs/{id}/fail.
type FailRequest struct {
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
	Stack   string `json:"stack,omitempty"`
}

// FailResponse reports the retry decision.
type FailResponse struct {
	Outcome   retry.Outcome `json:"outcome"`
	Job       *job.Job      `json:"job"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
}

// ReleaseRequest is the body of POST /v1/jobs/{id}/release.
type ReleaseRequest struct {
	Attempt int   `json:"attempt"`
	DelayMs int64 `json:"delay_ms,omitempty"`
}

// JobCountsResponse holds job counts per state.
type JobCountsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Dead       int64 `json:"dead"`
	Cancelled  int64 `json:"cancelled"`
}

// ── Dead letters ──

// SubmitDeadLetterResponse is returned by POST /v1/dead-letters.
type SubmitDeadLetterResponse struct {
	Entry   *dlq.Entry `json:"entry"`
	Deduped bool       `json:"deduped"`
}

// ResolveRequest is the body of POST /v1/dead-letters/{id}/resolve.
type ResolveRequest struct {
	Notes      string `json:"notes,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// ReplayRequest is the body of POST /v1/dead-letters/{id}/replay.
type ReplayRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// ArchiveRequest is the body of POST /v1/dead-letters/archive. Zero
// values use the configured retention.
type ArchiveRequest struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
	MaxFailures   int `json:"max_failures,omitempty"`
}

// ArchiveResponse reports how many entries were archived.
type ArchiveResponse struct {
	Archived int64 `json:"archived"`
}

// RetryClaimRequest is the body of POST /v1/dead-letters/retries.
type RetryClaimRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// RetryFailedRequest is the body of POST /v1/dead-letters/{id}/retry-failed.
type RetryFailedRequest struct {
	Error string `json:"error,omitempty"`
}

// ── Tenants ──

// PutTenantRequest is the body of PUT /v1/tenants/{id}.
type PutTenantRequest struct {
	Status tenant.Status `json:"status"`
}

// CancelTenantJobsResponse reports how many jobs were cancelled.
type CancelTenantJobsResponse struct {
	Cancelled int64 `json:"cancelled"`
}

// ── Health ──

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}
