package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Scheduler().Entries())
}

func (a *API) enableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, true)
}

func (a *API) disableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, false)
}

func (a *API) setCronEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := a.eng.Scheduler().SetEnabled(chi.URLParam(r, "name"), enabled); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
