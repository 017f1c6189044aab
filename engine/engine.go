package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/cron"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/limit"
	mw "github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/reaper"
	"github.com/xraph/conveyor/retry"
	"github.com/xraph/conveyor/tenant"
	"github.com/xraph/conveyor/worker"
)

const instrumentationName = "github.com/xraph/conveyor"

// Engine wraps a Conveyor with typed subsystem access.
// Use Build() to create one from a Conveyor.
type Engine struct {
	c           *conveyor.Conveyor
	extensions  *ext.Registry
	registry    *job.Registry
	jobStore    job.Store
	tenantStore tenant.Store
	dlqService  *dlq.Service
	accountant  *retry.Accountant
	bo          backoff.Strategy
	pool        *worker.Pool
	reaper      *reaper.Reaper
	archiver    *dlq.Archiver
	scheduler   *cron.Scheduler
	mws         []mw.Middleware
	logger      *slog.Logger
	now         func() time.Time

	// Limits subsystem.
	typeLimits   []limit.TypeConfig
	tenantLimits []limit.TenantConfig
	limiter      *limit.Manager

	// Metrics.
	promRegisterer prometheus.Registerer
	metrics        *observability.MetricsExtension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, an exponential strategy built from the Conveyor's
// BackoffInitial, BackoffMultiplier and BackoffMax is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTypeLimits registers per-job-type rate limiting and concurrency for
// the local worker pool. Types not listed have no limits.
func WithTypeLimits(configs ...limit.TypeConfig) Option {
	return func(eng *Engine) {
		eng.typeLimits = append(eng.typeLimits, configs...)
	}
}

// WithTenantLimits registers per-tenant rate limiting and concurrency for
// the local worker pool.
func WithTenantLimits(configs ...limit.TenantConfig) Option {
	return func(eng *Engine) {
		eng.tenantLimits = append(eng.tenantLimits, configs...)
	}
}

// WithPrometheus registers lifecycle counters with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(eng *Engine) {
		eng.promRegisterer = reg
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithClock overrides the time source of the engine and every subsystem it
// builds.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// Build creates an Engine from an existing Conveyor.
// The Conveyor's store must implement job.Store, tenant.Store and dlq.Store.
func Build(c *conveyor.Conveyor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, conveyor.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement job.Store")
	}
	ts, ok := store.(tenant.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement tenant.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement dlq.Store")
	}

	eng := &Engine{
		c:           c,
		extensions:  ext.NewRegistry(logger),
		registry:    job.NewRegistry(),
		jobStore:    js,
		tenantStore: ts,
		logger:      logger,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(eng)
	}

	cfg := c.Config()

	if eng.bo == nil {
		eng.bo = backoff.NewExponential(cfg.BackoffInitial, cfg.BackoffMultiplier, cfg.BackoffMax)
		if cfg.BackoffJitter {
			eng.bo = backoff.FullJitter(eng.bo)
		}
	}

	if eng.promRegisterer != nil {
		m, err := observability.NewMetricsExtension(eng.promRegisterer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		eng.metrics = m
		eng.extensions.Register(m)
	}

	eng.accountant = retry.New(js,
		retry.WithBackoff(eng.bo),
		retry.WithEmitter(eng.extensions),
		retry.WithLogger(logger),
		retry.WithClock(eng.now),
	)

	eng.dlqService = dlq.NewService(ds,
		dlq.WithDedupWindow(cfg.DLQDedupWindow),
		dlq.WithRetryCooldown(cfg.DLQRetryCooldown),
		dlq.WithMaxFailures(cfg.DLQMaxFailures),
		dlq.WithEnqueuer(eng),
		dlq.WithEvents(eng.extensions),
		dlq.WithLogger(logger),
		dlq.WithClock(eng.now),
	)

	if cfg.DeadJobPolicy != conveyor.DeadJobKeep {
		eng.extensions.Register(NewDeadLetterForwarder(eng.dlqService, cfg.DeadJobPolicy, logger))
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// tracing → metrics → logging → recover → tenant → timeout. Recover sits
	// inside the observers so they see panics as *PanicError.
	defaultMws := []mw.Middleware{
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Recover(logger),
		mw.Tenant(),
		mw.Timeout(0, logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithJobTypes(cfg.JobTypes),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithLeaseCheckInterval(cfg.LeaseCheckInterval),
	}

	if len(eng.typeLimits) > 0 || len(eng.tenantLimits) > 0 {
		eng.limiter = limit.NewManager(eng.typeLimits...)
		for _, tc := range eng.tenantLimits {
			eng.limiter.SetTenantConfig(tc)
		}
		poolOpts = append(poolOpts, worker.WithLimiter(eng.limiter))
	}

	eng.pool = worker.NewPool(eng, executor, logger, poolOpts...)

	eng.reaper = reaper.New(js, eng.accountant,
		reaper.WithLeaseTimeout(cfg.LeaseTimeout),
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithBatchSize(cfg.ReaperBatchSize),
		reaper.WithEmitter(eng.extensions),
		reaper.WithLogger(logger),
		reaper.WithClock(eng.now),
	)

	eng.archiver = dlq.NewArchiver(eng.dlqService, cfg.DLQArchiveInterval, cfg.DLQArchiveAfterDays, cfg.DLQMaxFailures, logger)

	eng.scheduler = cron.NewScheduler(eng.EnqueueRaw, logger,
		cron.WithEmitter(eng.extensions),
		cron.WithClock(eng.now),
	)

	// Wire back into the Conveyor. Stop runs in reverse, so the producer
	// stops first and the pool drains last.
	c.AddRunner(eng.pool)
	c.AddRunner(eng.reaper)
	c.AddRunner(eng.archiver)
	c.AddRunner(eng.scheduler)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Registration and enqueue
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterCron registers a typed cron definition with the engine's
// scheduler. Re-registering a name replaces the entry.
func RegisterCron[T any](eng *Engine, def *cron.Definition[T]) error {
	return cron.Register(eng.scheduler, def)
}

// Enqueue creates and enqueues a job for tenantID.
func Enqueue[T any](ctx context.Context, eng *Engine, tenantID, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload for job %q: %v", conveyor.ErrInvalidJob, jobType, err)
	}
	return eng.EnqueueRaw(ctx, tenantID, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized JSON payload.
//
// Options registered with the job type's definition apply first, then
// opts. Only syntax is validated: a job may be enqueued for a suspended
// or unknown tenant and simply waits until the tenant is active.
//
// When a UniqueKey collides with an existing job of the same tenant, the
// existing job is returned together with conveyor.ErrJobAlreadyExists.
func (eng *Engine) EnqueueRaw(ctx context.Context, tenantID, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	base, ok := eng.registry.Options(jobType)
	if !ok {
		base = job.DefaultOptions()
	}
	o := base.Apply(opts...)

	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", conveyor.ErrInvalidJob)
	}
	if len(payload) == 0 {
		payload = nil
	}

	now := eng.now().UTC()
	j := &job.Job{
		Entity:       conveyor.NewEntityAt(now),
		ID:           id.NewJobID(),
		TenantID:     tenantID,
		Type:         jobType,
		Priority:     o.Priority,
		Payload:      payload,
		State:        job.StatePending,
		UniqueKey:    o.UniqueKey,
		ScheduledFor: now,
		MaxRetries:   o.MaxRetries,
		DeadLetter:   o.DeadLetter,
		Timeout:      o.Timeout,
	}
	if !o.RunAt.IsZero() {
		j.ScheduledFor = o.RunAt.UTC()
	}
	if !o.NotBefore.IsZero() {
		nb := o.NotBefore.UTC()
		j.NotBefore = &nb
	}

	if err := job.Validate(j); err != nil {
		return nil, err
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, conveyor.ErrJobAlreadyExists) && j.UniqueKey != "" {
			existing, getErr := eng.jobStore.GetJobByUniqueKey(ctx, tenantID, j.UniqueKey)
			if getErr == nil {
				return existing, conveyor.ErrJobAlreadyExists
			}
		}
		return nil, err
	}

	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.Time("scheduled_for", j.ScheduledFor),
	)
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Lease-guarded lifecycle
// ──────────────────────────────────────────────────

// ClaimNext atomically claims the most urgent eligible job of an active
// tenant. ok is false when nothing is eligible. The returned job's Lease()
// must accompany every later report.
func (eng *Engine) ClaimNext(ctx context.Context, opts job.ClaimOpts) (*job.Job, bool, error) {
	if opts.Now.IsZero() {
		opts.Now = eng.now()
	}
	j, err := eng.jobStore.ClaimJob(ctx, opts)
	if err != nil {
		return nil, false, err
	}
	if j == nil {
		return nil, false, nil
	}
	eng.extensions.EmitJobStarted(ctx, j)
	return j, true, nil
}

// MarkCompleted records a successful execution. It returns
// conveyor.ErrLeaseLost, changing nothing, when lease no longer owns the
// job (cancelled, reaped, or already reported).
func (eng *Engine) MarkCompleted(ctx context.Context, lease job.Lease, result []byte) error {
	if len(result) > 0 && !json.Valid(result) {
		return fmt.Errorf("%w: result is not valid JSON", conveyor.ErrInvalidRequest)
	}
	now := eng.now().UTC()
	if err := eng.jobStore.CompleteJob(ctx, lease, result, now); err != nil {
		return err
	}

	j, err := eng.jobStore.GetJob(ctx, lease.JobID)
	if err != nil {
		eng.logger.Warn("completed job could not be reloaded",
			slog.String("job_id", lease.JobID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	eng.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// MarkFailed records a failed execution through the retry accountant.
func (eng *Engine) MarkFailed(ctx context.Context, lease job.Lease, errMsg, errStack string) (*retry.Result, error) {
	return eng.accountant.Fail(ctx, lease, errMsg, errStack)
}

// Release hands a claimed job back to pending after delay without
// consuming a retry.
func (eng *Engine) Release(ctx context.Context, lease job.Lease, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return eng.jobStore.ReleaseJob(ctx, lease, eng.now().UTC().Add(delay))
}

// Cancel cancels a pending or processing job. A worker still running the
// job loses its lease; its late report is rejected.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.jobStore.CancelJob(ctx, jobID, eng.now().UTC())
	if err != nil {
		return nil, err
	}
	eng.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
	)
	eng.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// CancelTenant cancels every pending job of a tenant.
func (eng *Engine) CancelTenant(ctx context.Context, tenantID string) (int64, error) {
	if err := job.ValidateTenantID(tenantID); err != nil {
		return 0, err
	}
	n, err := eng.jobStore.CancelTenantJobs(ctx, tenantID, eng.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		eng.logger.Info("tenant jobs cancelled",
			slog.String("tenant_id", tenantID),
			slog.Int64("count", n),
		)
	}
	return n, nil
}

// Get retrieves a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// List returns jobs matching opts.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.jobStore.ListJobs(ctx, opts)
}

// Count returns the number of jobs matching opts.
func (eng *Engine) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	return eng.jobStore.CountJobs(ctx, opts)
}

// Sweep runs one reaper pass with the configured lease timeout.
func (eng *Engine) Sweep(ctx context.Context) (int, error) {
	return eng.reaper.Sweep(ctx)
}

// ──────────────────────────────────────────────────
// Tenant status mirror
// ──────────────────────────────────────────────────

// SetTenantStatus mirrors a tenant's status from the account system.
// Suspending hides the tenant's pending jobs from claims; deleting also
// cancels them.
func (eng *Engine) SetTenantStatus(ctx context.Context, tenantID string, status tenant.Status) (*tenant.Tenant, error) {
	if err := job.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown tenant status %q", conveyor.ErrInvalidTenant, status)
	}

	t := tenant.New(tenantID, status)
	if err := eng.tenantStore.PutTenant(ctx, t); err != nil {
		return nil, err
	}
	eng.logger.Info("tenant status updated",
		slog.String("tenant_id", tenantID),
		slog.String("status", string(status)),
	)

	if status == tenant.StatusDeleted {
		if _, err := eng.CancelTenant(ctx, tenantID); err != nil {
			return t, err
		}
	}
	return eng.tenantStore.GetTenant(ctx, tenantID)
}

// GetTenant returns the mirrored status of a tenant.
func (eng *Engine) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return eng.tenantStore.GetTenant(ctx, tenantID)
}

// ──────────────────────────────────────────────────
// Lifecycle and accessors
// ──────────────────────────────────────────────────

// Start begins job processing: worker pool, reaper, archiver and cron
// scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Conveyor returns the underlying Conveyor.
func (eng *Engine) Conveyor() *conveyor.Conveyor { return eng.c }

// DLQ returns the dead letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Accountant returns the retry accountant.
func (eng *Engine) Accountant() *retry.Accountant { return eng.accountant }

// Reaper returns the stuck-job reaper.
func (eng *Engine) Reaper() *reaper.Reaper { return eng.reaper }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the local worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Limiter returns the limit manager, or nil if no limits were configured.
func (eng *Engine) Limiter() *limit.Manager { return eng.limiter }

// Metrics returns the Prometheus lifecycle counters, or nil when
// WithPrometheus was not used.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

var (
	_ worker.Lifecycle = (*Engine)(nil)
	_ dlq.Enqueuer     = (*Engine)(nil)
)
