package conveyor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Conveyor.
type Option func(*Conveyor) error

// Storer is the minimal store interface held by the Conveyor.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background loop lifecycle
// (worker pool, reaper, archiver, cron producer).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conveyor is the central coordinator: it owns configuration, the logger,
// the store, and the background loops started by the engine package.
//
// Create one with New() and functional options, then pass it to
// engine.Build to wire the subsystems together.
type Conveyor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []runner

	started bool
}

// New creates a new Conveyor with the given options.
func New(opts ...Option) (*Conveyor, error) {
	c := &Conveyor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Logger returns the conveyor's logger.
func (c *Conveyor) Logger() *slog.Logger { return c.logger }

// Store returns the conveyor's store.
func (c *Conveyor) Store() Storer { return c.store }

// Config returns a copy of the conveyor's configuration.
func (c *Conveyor) Config() Config { return c.config }

// AddRunner registers a background loop started by Start and stopped,
// in reverse order, by Stop (called by the engine package).
func (c *Conveyor) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Conveyor) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start launches every registered background loop.
func (c *Conveyor) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the background loops, notifies extensions,
// and closes the store.
func (c *Conveyor) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("runner stop error", "error", err)
			}
		}
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration, e.g. one built by LoadConfig.
func WithConfig(cfg Config) Option {
	return func(c *Conveyor) error {
		c.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(c *Conveyor) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithJobTypes restricts the worker pool to the given job types.
func WithJobTypes(types ...string) Option {
	return func(c *Conveyor) error {
		c.config.JobTypes = types
		return nil
	}
}

// WithPollInterval sets how long idle workers wait between claims.
func WithPollInterval(d time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithLeaseTimeout sets the processing age after which the reaper
// reclaims a job.
func WithLeaseTimeout(d time.Duration) Option {
	return func(c *Conveyor) error {
		c.config.LeaseTimeout = d
		return nil
	}
}

// WithDeadJobPolicy sets what happens to jobs that exhaust their retries.
func WithDeadJobPolicy(p DeadJobPolicy) Option {
	return func(c *Conveyor) error {
		c.config.DeadJobPolicy = p
		return nil
	}
}

// WithLogger sets the structured logger for the conveyor.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conveyor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the conveyor.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conveyor) error {
		c.store = s
		return nil
	}
}
