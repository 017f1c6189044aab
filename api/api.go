// Package api exposes the engine over HTTP with chi. Producers enqueue
// jobs and submit dead letters, remote handlers claim jobs and report
// outcomes under their lease, and operators inspect and repair state.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/conveyor/engine"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// API wires all HTTP handlers together for the conveyor engine.
type API struct {
	eng      *engine.Engine
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger for request errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithGatherer sets the registry served at /metrics. The default is the
// global Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *API) { a.gatherer = g }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:      eng,
		logger:   eng.Conveyor().Logger(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", a.RegisterRoutes)
	return r
}

// RegisterRoutes registers all v1 routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	a.registerJobRoutes(r)
	a.registerDeadLetterRoutes(r)
	a.registerTenantRoutes(r)
	a.registerCronRoutes(r)
}

// registerJobRoutes registers producer, remote handler and operator job
// routes.
func (a *API) registerJobRoutes(r chi.Router) {
	r.Post("/jobs", a.enqueueJob)
	r.Get("/jobs", a.listJobs)
	r.Get("/jobs/counts", a.jobCounts)
	r.Get("/jobs/{jobId}", a.getJob)
	r.Post("/jobs/{jobId}/cancel", a.cancelJob)

	r.Post("/claims", a.claimJob)
	r.Post("/jobs/{jobId}/complete", a.completeJob)
	r.Post("/jobs/{jobId}/fail", a.failJob)
	r.Post("/jobs/{jobId}/release", a.releaseJob)
}

// registerDeadLetterRoutes registers dead letter routes.
func (a *API) registerDeadLetterRoutes(r chi.Router) {
	r.Post("/dead-letters", a.submitDeadLetter)
	r.Get("/dead-letters", a.listDeadLetters)
	r.Get("/dead-letters/stats", a.deadLetterStats)
	r.Post("/dead-letters/archive", a.archiveDeadLetters)
	r.Post("/dead-letters/retries", a.claimDeadLetterRetries)
	r.Get("/dead-letters/{entryId}", a.getDeadLetter)
	r.Post("/dead-letters/{entryId}/resolve", a.resolveDeadLetter)
	r.Post("/dead-letters/{entryId}/replay", a.replayDeadLetter)
	r.Post("/dead-letters/{entryId}/retry-failed", a.retryFailedDeadLetter)
}

// registerTenantRoutes registers the tenant status mirror.
func (a *API) registerTenantRoutes(r chi.Router) {
	r.Put("/tenants/{tenantId}", a.putTenant)
	r.Get("/tenants/{tenantId}", a.getTenant)
	r.Post("/tenants/{tenantId}/cancel-jobs", a.cancelTenantJobs)
}

// registerCronRoutes registers scheduled producer routes.
func (a *API) registerCronRoutes(r chi.Router) {
	r.Get("/crons", a.listCrons)
	r.Post("/crons/{name}/enable", a.enableCron)
	r.Post("/crons/{name}/disable", a.disableCron)
}
