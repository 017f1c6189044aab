package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Limiter controls per-type and per-tenant rate limiting and concurrency.
// The pool calls Acquire after claiming a job and Release after execution.
// *limit.Manager implements it.
type Limiter interface {
	Acquire(jobType, tenantID string) bool
	Release(jobType, tenantID string)
}

// activeJob is a job currently executing in this pool.
type activeJob struct {
	lease  job.Lease
	cancel context.CancelCauseFunc
}

// Pool manages a set of concurrent worker goroutines that claim jobs and
// execute them through the Executor.
type Pool struct {
	lifecycle     Lifecycle
	executor      *Executor
	concurrency   int
	jobTypes      []string
	tenantID      string
	pollInterval  time.Duration
	leaseInterval time.Duration
	workerID      id.WorkerID
	logger        *slog.Logger

	// Limiter (optional).
	limiter Limiter

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]activeJob
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithJobTypes restricts the pool to the given job types. When unset, the
// pool claims every type that has a registered handler.
func WithJobTypes(types []string) PoolOption {
	return func(p *Pool) { p.jobTypes = types }
}

// WithTenant restricts the pool to a single tenant.
func WithTenant(tenantID string) PoolOption {
	return func(p *Pool) { p.tenantID = tenantID }
}

// WithPollInterval sets how long an idle worker waits before claiming
// again. It is also the delay applied to jobs released by the limiter.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseCheckInterval sets how often the pool verifies that its active
// jobs are still owned. A zero value disables the check.
func WithLeaseCheckInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseInterval = d }
}

// WithLimiter sets the limiter for rate limiting and concurrency control.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(lifecycle Lifecycle, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		lifecycle:     lifecycle,
		executor:      executor,
		concurrency:   10,
		pollInterval:  time.Second,
		leaseInterval: 5 * time.Second,
		workerID:      id.NewWorkerID(),
		logger:        logger,
		stopCh:        make(chan struct{}),
		activeJobs:    make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("job_types", p.types()),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.leaseInterval > 0 {
		p.wg.Add(1)
		go p.leaseWatchLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If ctx expires first, active handlers are cancelled and their jobs are
// released back to pending.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, releasing active jobs")
		p.cancelActiveJobs(errShuttingDown)
		<-done
	}

	return nil
}

func (p *Pool) types() []string {
	if len(p.jobTypes) > 0 {
		return p.jobTypes
	}
	return p.executor.Registry().Names()
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		types := p.types()
		if len(types) == 0 {
			// Nothing registered yet; an empty filter would claim any type.
			p.sleep()
			continue
		}

		j, ok, err := p.lifecycle.ClaimNext(context.Background(), job.ClaimOpts{
			Types:    types,
			TenantID: p.tenantID,
		})
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if !ok {
			p.sleep()
			continue
		}

		if p.limiter != nil && !p.limiter.Acquire(j.Type, j.TenantID) {
			// Over a local limit: hand the job back without using a retry.
			if relErr := p.lifecycle.Release(context.Background(), j.Lease(), p.pollInterval); relErr != nil {
				p.logger.Error("failed to release rate-limited job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.run(j)

		if p.limiter != nil {
			p.limiter.Release(j.Type, j.TenantID)
		}
	}
}

func (p *Pool) run(j *job.Job) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	p.trackJob(j, cancel)
	defer p.untrackJob(j.ID.String())

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
	}
}

// leaseWatchLoop periodically checks that active jobs are still owned by
// this pool and cancels the handlers of those that are not (cancelled or
// reaped).
func (p *Pool) leaseWatchLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.leaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkLeases()
		}
	}
}

func (p *Pool) checkLeases() {
	p.activeMu.Lock()
	active := make([]activeJob, 0, len(p.activeJobs))
	for _, a := range p.activeJobs {
		active = append(active, a)
	}
	p.activeMu.Unlock()

	for _, a := range active {
		current, err := p.lifecycle.Get(context.Background(), a.lease.JobID)
		if err != nil && !errors.Is(err, conveyor.ErrJobNotFound) {
			p.logger.Warn("lease check failed",
				slog.String("job_id", a.lease.JobID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if a.lease.Owns(current) {
			continue
		}
		p.logger.Info("job lease lost, cancelling handler",
			slog.String("job_id", a.lease.JobID.String()),
			slog.Int("attempt", a.lease.Attempt),
		)
		a.cancel(conveyor.ErrLeaseLost)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(j *job.Job, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	p.activeJobs[j.ID.String()] = activeJob{lease: j.Lease(), cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs(cause error) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		a.cancel(cause)
	}
}
