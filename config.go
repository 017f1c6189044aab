package conveyor

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DeadJobPolicy controls what happens to a job after it is marked dead.
type DeadJobPolicy string

const (
	// DeadJobKeep leaves dead jobs in the job store only.
	DeadJobKeep DeadJobPolicy = "none"
	// DeadJobOptIn forwards dead jobs to the dead letter store when the
	// producer enqueued them with job.WithDeadLetter.
	DeadJobOptIn DeadJobPolicy = "opt-in"
	// DeadJobForwardAll forwards every dead job to the dead letter store.
	DeadJobForwardAll DeadJobPolicy = "all"
)

// Config holds configuration for the Conveyor. Every field can be overridden
// from the environment via LoadConfig.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently by
	// the in-process worker pool.
	Concurrency int `env:"CONVEYOR_CONCURRENCY"`

	// JobTypes restricts the worker pool to these job types. Empty means
	// every type with a registered handler.
	JobTypes []string `env:"CONVEYOR_JOB_TYPES" envSeparator:","`

	// PollInterval is how long an idle worker waits before claiming again.
	PollInterval time.Duration `env:"CONVEYOR_POLL_INTERVAL"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT"`

	// LeaseTimeout is how long a job may stay processing before the reaper
	// treats its lease as expired.
	LeaseTimeout time.Duration `env:"CONVEYOR_LEASE_TIMEOUT"`

	// LeaseCheckInterval is how often the pool verifies that its active
	// jobs are still owned (cancellation, reaping).
	LeaseCheckInterval time.Duration `env:"CONVEYOR_LEASE_CHECK_INTERVAL"`

	// ReaperInterval is how often the reaper sweeps. Zero disables it.
	ReaperInterval time.Duration `env:"CONVEYOR_REAPER_INTERVAL"`

	// ReaperBatchSize caps the number of expired leases handled per query.
	ReaperBatchSize int `env:"CONVEYOR_REAPER_BATCH_SIZE"`

	// Retry backoff: Initial * Multiplier^(retry-1), capped at Max.
	BackoffInitial    time.Duration `env:"CONVEYOR_BACKOFF_INITIAL"`
	BackoffMultiplier float64       `env:"CONVEYOR_BACKOFF_MULTIPLIER"`
	BackoffMax        time.Duration `env:"CONVEYOR_BACKOFF_MAX"`
	// BackoffJitter draws each delay uniformly below the computed one.
	BackoffJitter bool `env:"CONVEYOR_BACKOFF_JITTER"`

	// DeadJobPolicy decides whether dead jobs are forwarded to the dead
	// letter store.
	DeadJobPolicy DeadJobPolicy `env:"CONVEYOR_DEAD_JOB_POLICY"`

	// DLQDedupWindow is how long a pending dead letter entry absorbs
	// identical submissions.
	DLQDedupWindow time.Duration `env:"CONVEYOR_DLQ_DEDUP_WINDOW"`

	// DLQRetryCooldown is the minimum time between retries of one entry.
	DLQRetryCooldown time.Duration `env:"CONVEYOR_DLQ_RETRY_COOLDOWN"`

	// DLQMaxFailures is the failure count at which an entry stops being
	// offered for retry.
	DLQMaxFailures int `env:"CONVEYOR_DLQ_MAX_FAILURES"`

	// DLQArchiveAfterDays is the retention window used by the periodic
	// archiver.
	DLQArchiveAfterDays int `env:"CONVEYOR_DLQ_ARCHIVE_AFTER_DAYS"`

	// DLQArchiveInterval is how often the archiver runs. Zero disables it.
	DLQArchiveInterval time.Duration `env:"CONVEYOR_DLQ_ARCHIVE_INTERVAL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        time.Second,
		ShutdownTimeout:     30 * time.Second,
		LeaseTimeout:        10 * time.Minute,
		LeaseCheckInterval:  5 * time.Second,
		ReaperInterval:      time.Minute,
		ReaperBatchSize:     100,
		BackoffInitial:      time.Second,
		BackoffMultiplier:   5,
		BackoffMax:          2 * time.Hour,
		DeadJobPolicy:       DeadJobOptIn,
		DLQDedupWindow:      5 * time.Minute,
		DLQRetryCooldown:    5 * time.Minute,
		DLQMaxFailures:      5,
		DLQArchiveAfterDays: 30,
		DLQArchiveInterval:  time.Hour,
	}
}

// LoadConfig returns DefaultConfig overridden by any CONVEYOR_* environment
// variables that are set.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.LeaseTimeout <= 0:
		return fmt.Errorf("%w: lease timeout must be positive", ErrInvalidConfig)
	case c.ReaperInterval < 0 || c.DLQArchiveInterval < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	case c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial:
		return fmt.Errorf("%w: backoff initial must be positive and not exceed max", ErrInvalidConfig)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("%w: backoff multiplier must be at least 1", ErrInvalidConfig)
	case c.DLQDedupWindow <= 0 || c.DLQRetryCooldown <= 0:
		return fmt.Errorf("%w: dead letter windows must be positive", ErrInvalidConfig)
	case c.DLQMaxFailures <= 0:
		return fmt.Errorf("%w: dead letter max failures must be positive", ErrInvalidConfig)
	}

	switch c.DeadJobPolicy {
	case DeadJobKeep, DeadJobOptIn, DeadJobForwardAll:
	default:
		return fmt.Errorf("%w: unknown dead job policy %q", ErrInvalidConfig, c.DeadJobPolicy)
	}
	return nil
}
