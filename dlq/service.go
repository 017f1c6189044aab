package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Default tuning of the dead letter store.
const (
	DefaultDedupWindow   = 5 * time.Minute
	DefaultRetryCooldown = 5 * time.Minute
	DefaultMaxFailures   = 5
)

// Events receives dead letter lifecycle notifications. ext.Registry
// implements it.
type Events interface {
	EmitDeadLetterSubmitted(ctx context.Context, e *Entry, deduped bool)
	EmitDeadLetterResolved(ctx context.Context, e *Entry)
}

// Enqueuer creates jobs on behalf of Replay. engine.Engine implements it.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, tenantID, jobType string, payload []byte, opts ...job.Option) (*job.Job, error)
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store       Store
	enqueuer    Enqueuer
	events      Events
	logger      *slog.Logger
	now         func() time.Time
	window      time.Duration
	cooldown    time.Duration
	maxFailures int
}

// Option configures a Service.
type Option func(*Service)

// WithDedupWindow sets how long a pending entry absorbs identical
// submissions.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// WithRetryCooldown sets the minimum time between retries of an entry.
func WithRetryCooldown(d time.Duration) Option {
	return func(s *Service) { s.cooldown = d }
}

// WithMaxFailures sets the failure count at which an entry stops being
// offered for retry.
func WithMaxFailures(n int) Option {
	return func(s *Service) { s.maxFailures = n }
}

// WithEnqueuer enables Replay.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *Service) { s.enqueuer = e }
}

// WithEvents sets the lifecycle notification sink.
func WithEvents(ev Events) Option {
	return func(s *Service) { s.events = ev }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a dead letter service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		window:      DefaultDedupWindow,
		cooldown:    DefaultRetryCooldown,
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Submit records a failure. An identical pending submission (same tenant,
// correlation ID and payload) within the dedup window increments the
// existing entry's failure count instead of creating a new entry.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Entry, bool, error) {
	if sub.TenantID == "" {
		return nil, false, fmt.Errorf("%w: tenant id is required", conveyor.ErrInvalidRequest)
	}
	if sub.ErrorMessage == "" {
		return nil, false, fmt.Errorf("%w: error message is required", conveyor.ErrInvalidRequest)
	}

	now := s.now().UTC()
	e := &Entry{
		Entity:        conveyor.NewEntityAt(now),
		ID:            id.NewEntryID(),
		TenantID:      sub.TenantID,
		CorrelationID: sub.CorrelationID,
		Payload:       sub.Payload,
		ContentHash:   ContentHash(sub.Payload),
		ErrorMessage:  sub.ErrorMessage,
		ErrorCode:     sub.ErrorCode,
		Stack:         sub.Stack,
		Stage:         sub.Stage,
		JobType:       sub.JobType,
		JobID:         sub.JobID,
		FailureCount:  1,
		LastAttemptAt: now,
		Status:        StatusPending,
	}

	stored, deduped, err := s.store.SubmitDeadLetter(ctx, e, s.window)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("dead letter submitted",
		slog.String("entry_id", stored.ID.String()),
		slog.String("tenant_id", stored.TenantID),
		slog.String("stage", stored.Stage),
		slog.Int("failure_count", stored.FailureCount),
		slog.Bool("deduped", deduped),
	)
	if s.events != nil {
		s.events.EmitDeadLetterSubmitted(ctx, stored, deduped)
	}
	return stored, deduped, nil
}

// NextForRetry claims up to limit pending entries that are below the
// failure cap and outside the retry cooldown, moving them to retrying.
// An empty tenantID claims across all tenants.
func (s *Service) NextForRetry(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	now := s.now().UTC()
	return s.store.ClaimDeadLetters(ctx, RetryClaim{
		TenantID:        tenantID,
		Limit:           limit,
		MaxFailures:     s.maxFailures,
		AttemptedBefore: now.Add(-s.cooldown),
		Now:             now,
	})
}

// RetryFailed returns a retrying entry to pending after another failed
// attempt.
func (s *Service) RetryFailed(ctx context.Context, entryID id.EntryID, errMsg string) (*Entry, error) {
	return s.store.FailDeadLetterRetry(ctx, entryID, errMsg, s.now().UTC())
}

// Resolve marks a pending or retrying entry as resolved.
func (s *Service) Resolve(ctx context.Context, entryID id.EntryID, notes, resolvedBy string) (*Entry, error) {
	e, err := s.store.ResolveDeadLetter(ctx, entryID, notes, resolvedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("dead letter resolved",
		slog.String("entry_id", e.ID.String()),
		slog.String("tenant_id", e.TenantID),
		slog.String("resolved_by", resolvedBy),
	)
	if s.events != nil {
		s.events.EmitDeadLetterResolved(ctx, e)
	}
	return e, nil
}

// Archive moves pending entries older than olderThanDays, or with at
// least maxFailures failures, to archived.
func (s *Service) Archive(ctx context.Context, olderThanDays, maxFailures int) (int64, error) {
	if olderThanDays < 0 || maxFailures < 1 {
		return 0, fmt.Errorf("%w: archive needs days >= 0 and max failures >= 1", conveyor.ErrInvalidRequest)
	}
	now := s.now().UTC()
	n, err := s.store.ArchiveDeadLetters(ctx, now.AddDate(0, 0, -olderThanDays), maxFailures, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("dead letters archived", slog.Int64("count", n))
	}
	return n, nil
}

// Stats aggregates entries for tenantID, or all tenants when empty.
func (s *Service) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	return s.store.DeadLetterStats(ctx, tenantID)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, entryID id.EntryID) (*Entry, error) {
	return s.store.GetDeadLetter(ctx, entryID)
}

// List returns entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDeadLetters(ctx, opts)
}
