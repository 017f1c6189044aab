package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/conveyor"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as JSON with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps err onto an HTTP status and writes it as JSON.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		msg = "internal error"
	}
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor converts conveyor sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conveyor.ErrJobNotFound),
		errors.Is(err, conveyor.ErrDeadLetterNotFound),
		errors.Is(err, conveyor.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, conveyor.ErrJobAlreadyExists),
		errors.Is(err, conveyor.ErrLeaseLost),
		errors.Is(err, conveyor.ErrInvalidState),
		errors.Is(err, conveyor.ErrNotReplayable):
		return http.StatusConflict
	case errors.Is(err, conveyor.ErrInvalidJob),
		errors.Is(err, conveyor.ErrInvalidTenant),
		errors.Is(err, conveyor.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// badRequest wraps a request problem so it maps to 400.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", conveyor.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

// pageParams reads limit and offset, applying the default page size.
func pageParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}
