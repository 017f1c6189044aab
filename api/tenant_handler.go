package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) putTenant(w http.ResponseWriter, r *http.Request) {
	var req PutTenantRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	t, err := a.eng.SetTenantStatus(r.Context(), chi.URLParam(r, "tenantId"), req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, t)
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.eng.GetTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, t)
}

func (a *API) cancelTenantJobs(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.CancelTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, CancelTenantJobsResponse{Cancelled: n})
}
