package job

import "time"

// DefaultMaxRetries is the retry budget of a job that does not set one.
const DefaultMaxRetries = 3

// Options configures per-job behavior such as retries, priority and
// scheduling.
type Options struct {
	// MaxRetries is the number of retries allowed after the first failure.
	MaxRetries int

	// Priority determines claim ordering. Lower values are claimed first.
	Priority int

	// Timeout is the maximum duration a handler may run. Zero means the
	// worker's lease timeout applies.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means now.
	RunAt time.Time

	// NotBefore is a hard lower bound on when the job may be claimed.
	NotBefore time.Time

	// UniqueKey makes the enqueue idempotent within a tenant.
	UniqueKey string

	// DeadLetter forwards the job to the dead letter store when it dies
	// under the opt-in policy.
	DeadLetter bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: DefaultMaxRetries,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithPriority sets the job priority. Lower values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithDelay schedules the job d after enqueue.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RunAt = time.Now().Add(d)
	}
}

// WithNotBefore sets a hard lower bound on the claim time.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) {
		o.NotBefore = t
	}
}

// WithUniqueKey makes the enqueue idempotent: a second enqueue with the
// same key for the same tenant returns the existing job.
func WithUniqueKey(key string) Option {
	return func(o *Options) {
		o.UniqueKey = key
	}
}

// WithDeadLetter marks the job for forwarding to the dead letter store
// when it exhausts its retries.
func WithDeadLetter() Option {
	return func(o *Options) {
		o.DeadLetter = true
	}
}

// Apply returns a copy of o with opts applied.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
