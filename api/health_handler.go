package api

import (
	"log/slog"
	"net/http"
)

// healthz reports whether the store answers a ping.
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if err := a.eng.Conveyor().Store().Ping(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "healthz: store ping failed", slog.String("error", err.Error()))
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, resp)
}
