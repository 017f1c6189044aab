package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/conveyor/api"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

// EnqueueOption configures an enqueue request.
type EnqueueOption func(*api.EnqueueRequest)

// WithPriority sets the job priority. Lower values are claimed first.
func WithPriority(priority int) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.Priority = &priority }
}

// WithMaxRetries sets how many failures are retried before the job dies.
func WithMaxRetries(n int) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.MaxRetries = &n }
}

// WithTimeout sets the per-job execution deadline.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.TimeoutMs = d.Milliseconds() }
}

// WithRunAt schedules the job for t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.RunAt = &t }
}

// WithNotBefore hides the job from claims until t.
func WithNotBefore(t time.Time) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.NotBefore = &t }
}

// WithUniqueKey makes the enqueue idempotent per tenant and key.
func WithUniqueKey(key string) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.UniqueKey = key }
}

// WithDeadLetter opts the job into dead letter forwarding.
func WithDeadLetter() EnqueueOption {
	return func(r *api.EnqueueRequest) { r.DeadLetter = true }
}

// Enqueue submits a job. payload may be a json.RawMessage, raw JSON bytes
// or any value that marshals to JSON. created is false when a job with the
// same unique key already existed; that job is returned.
func (c *Client) Enqueue(ctx context.Context, tenantID, jobType string, payload any, opts ...EnqueueOption) (j *job.Job, created bool, err error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, false, err
	}
	req := api.EnqueueRequest{TenantID: tenantID, Type: jobType, Payload: raw}
	for _, opt := range opts {
		opt(&req)
	}

	var resp api.EnqueueResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Job, resp.Created, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("conveyor/client: marshal payload: %w", err)
	}
	return raw, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CancelJob cancels a pending or processing job.
func (c *Client) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Claim leases the next eligible job. An empty tenantID claims across
// tenants and no types means any type. ok is false when nothing is
// eligible.
func (c *Client) Claim(ctx context.Context, tenantID string, types ...string) (j *job.Job, lease job.Lease, ok bool, err error) {
	var resp api.ClaimResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/claims", api.ClaimRequest{Types: types, TenantID: tenantID}, &resp)
	if err != nil || status == http.StatusNoContent {
		return nil, job.Lease{}, false, err
	}
	return resp.Job, resp.Lease, true, nil
}

// Complete reports success under lease. result is stored on the job.
func (c *Client) Complete(ctx context.Context, lease job.Lease, result any) error {
	raw, err := encodePayload(result)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/v1/jobs/"+lease.JobID.String()+"/complete",
		api.CompleteRequest{Attempt: lease.Attempt, Result: raw}, nil)
	return err
}

// Fail reports a failed attempt under lease. The response says whether the
// job will be retried or is dead.
func (c *Client) Fail(ctx context.Context, lease job.Lease, errMsg, stack string) (*api.FailResponse, error) {
	var resp api.FailResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/jobs/"+lease.JobID.String()+"/fail",
		api.FailRequest{Attempt: lease.Attempt, Error: errMsg, Stack: stack}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Release hands a claimed job back without counting a retry. It becomes
// eligible again after delay.
func (c *Client) Release(ctx context.Context, lease job.Lease, delay time.Duration) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/jobs/"+lease.JobID.String()+"/release",
		api.ReleaseRequest{Attempt: lease.Attempt, DelayMs: delay.Milliseconds()}, nil)
	return err
}

// SetTenantStatus mirrors a tenant's status onto the server.
func (c *Client) SetTenantStatus(ctx context.Context, tenantID string, status tenant.Status) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if _, err := c.do(ctx, http.MethodPut, "/v1/tenants/"+tenantID, api.PutTenantRequest{Status: status}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
