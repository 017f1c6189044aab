// Package observability exports lifecycle counters to Prometheus. The
// MetricsExtension implements the ext hooks to count enqueues, claims,
// completions, retries, dead and cancelled jobs, reaped leases, dead
// letter submissions and cron fires.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
