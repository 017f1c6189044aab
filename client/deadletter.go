package client

import (
	"context"
	"net/http"

	"github.com/xraph/conveyor/api"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// SubmitDeadLetter records a failure. deduped is true when an identical
// pending entry absorbed the submission.
func (c *Client) SubmitDeadLetter(ctx context.Context, sub dlq.Submission) (e *dlq.Entry, deduped bool, err error) {
	var resp api.SubmitDeadLetterResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/dead-letters", sub, &resp); err != nil {
		return nil, false, err
	}
	return resp.Entry, resp.Deduped, nil
}

// GetDeadLetter retrieves an entry by ID.
func (c *Client) GetDeadLetter(ctx context.Context, entryID id.EntryID) (*dlq.Entry, error) {
	var e dlq.Entry
	if _, err := c.do(ctx, http.MethodGet, "/v1/dead-letters/"+entryID.String(), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimDeadLetterRetries moves up to limit retryable entries to retrying
// and returns them.
func (c *Client) ClaimDeadLetterRetries(ctx context.Context, tenantID string, limit int) ([]*dlq.Entry, error) {
	var entries []*dlq.Entry
	_, err := c.do(ctx, http.MethodPost, "/v1/dead-letters/retries",
		api.RetryClaimRequest{TenantID: tenantID, Limit: limit}, &entries)
	return entries, err
}

// RetryFailed returns a retrying entry to pending after another failure.
func (c *Client) RetryFailed(ctx context.Context, entryID id.EntryID, errMsg string) (*dlq.Entry, error) {
	var e dlq.Entry
	if _, err := c.do(ctx, http.MethodPost, "/v1/dead-letters/"+entryID.String()+"/retry-failed",
		api.RetryFailedRequest{Error: errMsg}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ResolveDeadLetter marks an entry resolved.
func (c *Client) ResolveDeadLetter(ctx context.Context, entryID id.EntryID, notes, resolvedBy string) (*dlq.Entry, error) {
	var e dlq.Entry
	if _, err := c.do(ctx, http.MethodPost, "/v1/dead-letters/"+entryID.String()+"/resolve",
		api.ResolveRequest{Notes: notes, ResolvedBy: resolvedBy}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ReplayDeadLetter re-enqueues an entry's payload as a new job and
// resolves the entry.
func (c *Client) ReplayDeadLetter(ctx context.Context, entryID id.EntryID, resolvedBy string) (*job.Job, error) {
	var j job.Job
	if _, err := c.do(ctx, http.MethodPost, "/v1/dead-letters/"+entryID.String()+"/replay",
		api.ReplayRequest{ResolvedBy: resolvedBy}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
