package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
)

func (a *API) submitDeadLetter(w http.ResponseWriter, r *http.Request) {
	var sub dlq.Submission
	if err := decodeBody(r, &sub); err != nil {
		a.writeError(w, r, err)
		return
	}

	e, deduped, err := a.eng.DLQ().Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if deduped {
		status = http.StatusOK
	}
	a.writeJSON(w, status, SubmitDeadLetterResponse{Entry: e, Deduped: deduped})
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	status := dlq.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		a.writeError(w, r, badRequest("unknown dead letter status %q", status))
		return
	}

	entries, err := a.eng.DLQ().List(r.Context(), dlq.ListOpts{
		Limit:    limit,
		Offset:   offset,
		TenantID: q.Get("tenant_id"),
		Status:   status,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	e, err := a.eng.DLQ().Get(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) resolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	e, err := a.eng.DLQ().Resolve(r.Context(), entryID, req.Notes, req.ResolvedBy)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	var req ReplayRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.DLQ().Replay(r.Context(), entryID, req.ResolvedBy)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

func (a *API) retryFailedDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.entryID(w, r)
	if !ok {
		return
	}
	var req RetryFailedRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	e, err := a.eng.DLQ().RetryFailed(r.Context(), entryID, req.Error)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) claimDeadLetterRetries(w http.ResponseWriter, r *http.Request) {
	var req RetryClaimRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	entries, err := a.eng.DLQ().NextForRetry(r.Context(), req.TenantID, req.Limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) archiveDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	cfg := a.eng.Conveyor().Config()
	if req.OlderThanDays == 0 {
		req.OlderThanDays = cfg.DLQArchiveAfterDays
	}
	if req.MaxFailures == 0 {
		req.MaxFailures = cfg.DLQMaxFailures
	}

	n, err := a.eng.DLQ().Archive(r.Context(), req.OlderThanDays, req.MaxFailures)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ArchiveResponse{Archived: n})
}

func (a *API) deadLetterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.DLQ().Stats(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

// entryID parses the {entryId} path parameter, writing a 400 on failure.
func (a *API) entryID(w http.ResponseWriter, r *http.Request) (id.EntryID, bool) {
	entryID, err := id.ParseEntryID(chi.URLParam(r, "entryId"))
	if err != nil {
		a.writeError(w, r, badRequest("invalid dead letter ID: %v", err))
		return id.EntryID{}, false
	}
	return entryID, true
}
