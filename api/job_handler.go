package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

func (a *API) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.EnqueueRaw(r.Context(), req.TenantID, req.Type, req.Payload, req.options()...)
	if errors.Is(err, conveyor.ErrJobAlreadyExists) && j != nil {
		a.writeJSON(w, http.StatusOK, EnqueueResponse{Job: j, Created: false})
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, EnqueueResponse{Job: j, Created: true})
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	state := job.State(q.Get("state"))
	if state != "" && !state.Valid() {
		a.writeError(w, r, badRequest("unknown job state %q", state))
		return
	}

	jobs, err := a.eng.List(r.Context(), job.ListOpts{
		Limit:    limit,
		Offset:   offset,
		TenantID: q.Get("tenant_id"),
		Type:     q.Get("type"),
		State:    state,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Cancel(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")

	var resp JobCountsResponse
	for _, c := range []struct {
		state job.State
		dst   *int64
	}{
		{job.StatePending, &resp.Pending},
		{job.StateProcessing, &resp.Processing},
		{job.StateCompleted, &resp.Completed},
		{job.StateDead, &resp.Dead},
		{job.StateCancelled, &resp.Cancelled},
	} {
		n, err := a.eng.Count(r.Context(), job.CountOpts{TenantID: tenantID, State: c.state})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		*c.dst = n
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// ── Remote handler protocol ──

func (a *API) claimJob(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	j, ok, err := a.eng.ClaimNext(r.Context(), job.ClaimOpts{Types: req.Types, TenantID: req.TenantID})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeJSON(w, http.StatusOK, ClaimResponse{Job: j, Lease: j.Lease()})
}

func (a *API) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req CompleteRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	lease := job.Lease{JobID: jobID, Attempt: req.Attempt}
	if err := a.eng.MarkCompleted(r.Context(), lease, req.Result); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) failJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req FailRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	lease := job.Lease{JobID: jobID, Attempt: req.Attempt}
	res, err := a.eng.MarkFailed(r.Context(), lease, req.Error, req.Stack)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := FailResponse{Outcome: res.Outcome, Job: res.Job}
	if !res.NextRunAt.IsZero() {
		next := res.NextRunAt
		resp.NextRunAt = &next
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) releaseJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req ReleaseRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	lease := job.Lease{JobID: jobID, Attempt: req.Attempt}
	delay := time.Duration(req.DelayMs) * time.Millisecond
	if err := a.eng.Release(r.Context(), lease, delay); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobID parses the {jobId} path parameter, writing a 400 on failure.
func (a *API) jobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		a.writeError(w, r, badRequest("invalid job ID: %v", err))
		return id.JobID{}, false
	}
	return jobID, true
}
