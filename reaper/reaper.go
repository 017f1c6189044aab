// Package reaper recovers jobs whose worker vanished. A job that has been
// processing for longer than the lease timeout is fed back through the
// retry accountant as a failed attempt with the message "lease expired",
// so it is retried with backoff or marked dead like any other failure.
//
// The lease captured when the job was listed guards the write: a worker
// that finishes between listing and reaping wins, and the job is skipped.
// A worker that finishes after the reap gets conveyor.ErrLeaseLost.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/retry"
)

// LeaseExpiredMessage is the error recorded on reaped jobs.
const LeaseExpiredMessage = "lease expired"

// Defaults used when the corresponding option is not set.
const (
	DefaultLeaseTimeout = 10 * time.Minute
	DefaultInterval     = time.Minute
	DefaultBatchSize    = 100
)

// Failer records a failed attempt. *retry.Accountant implements it.
type Failer interface {
	Fail(ctx context.Context, lease job.Lease, errMsg, errStack string) (*retry.Result, error)
}

// Emitter receives reaped jobs. ext.Registry implements it.
type Emitter interface {
	EmitJobReaped(ctx context.Context, j *job.Job)
}

// Reaper sweeps expired leases.
type Reaper struct {
	store     job.Store
	failer    Failer
	events    Emitter
	timeout   time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLeaseTimeout sets how long a job may stay processing.
func WithLeaseTimeout(d time.Duration) Option {
	return func(r *Reaper) { r.timeout = d }
}

// WithInterval sets how often the background loop sweeps. A non-positive
// interval disables the loop; Sweep can still be called directly.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// WithBatchSize caps the jobs read per query.
func WithBatchSize(n int) Option {
	return func(r *Reaper) { r.batchSize = n }
}

// WithEmitter sets the lifecycle sink.
func WithEmitter(e Emitter) Option {
	return func(r *Reaper) { r.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New creates a Reaper.
func New(store job.Store, failer Failer, opts ...Option) *Reaper {
	r := &Reaper{
		store:     store,
		failer:    failer,
		timeout:   DefaultLeaseTimeout,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	return r
}

// Sweep reaps with the configured lease timeout.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	return r.SweepWithTimeout(ctx, r.timeout)
}

// SweepWithTimeout fails every job that has been processing since before
// now-leaseTimeout and returns how many were reaped. Jobs whose lease
// changed since they were listed are skipped.
func (r *Reaper) SweepWithTimeout(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	if leaseTimeout <= 0 {
		return 0, conveyor.ErrInvalidConfig
	}
	cutoff := r.now().UTC().Add(-leaseTimeout)

	reaped, skipped := 0, 0
	for {
		batch, err := r.store.ListExpiredLeases(ctx, cutoff, r.batchSize)
		if err != nil {
			return reaped, err
		}

		progressed := 0
		for _, j := range batch {
			res, err := r.failer.Fail(ctx, j.Lease(), LeaseExpiredMessage, "")
			switch {
			case errors.Is(err, conveyor.ErrLeaseLost), errors.Is(err, conveyor.ErrJobNotFound):
				skipped++
				continue
			case err != nil:
				return reaped, err
			}
			reaped++
			progressed++

			r.logger.Warn("reaped job with expired lease",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("tenant_id", j.TenantID),
				slog.Int("attempt", j.Attempt),
				slog.String("outcome", string(res.Outcome)),
			)
			if r.events != nil {
				r.events.EmitJobReaped(ctx, res.Job)
			}
		}

		if len(batch) < r.batchSize || progressed == 0 {
			break
		}
	}

	if reaped > 0 || skipped > 0 {
		r.logger.Info("reaper sweep finished",
			slog.Int("reaped", reaped),
			slog.Int("skipped", skipped),
		)
	}
	return reaped, nil
}

// Start launches the sweep loop. It returns immediately.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.interval <= 0 {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(context.WithoutCancel(ctx))
	return nil
}

// Stop stops the loop and waits for an in-flight sweep.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep error", slog.String("error", err.Error()))
			}
		}
	}
}
