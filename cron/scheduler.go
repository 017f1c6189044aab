package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, tenantID, jobType string, payload []byte, opts ...job.Option) (*job.Job, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEmitter sets the lifecycle sink.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// scheduled pairs an entry with its parsed schedule.
type scheduled struct {
	entry *Entry
	sched cronlib.Schedule
}

// Scheduler fires cron entries on a tick loop. Every replica may run one:
// each fire is enqueued with a per-slot unique key, so a slot produces a
// single job no matter how many schedulers see it.
type Scheduler struct {
	enqueue      EnqueueFunc
	emitter      Emitter
	logger       *slog.Logger
	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*scheduled

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: time.Second,
		now:          time.Now,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates and registers an entry, computing its first NextRunAt.
// Re-adding a name replaces the entry.
func (s *Scheduler) Add(e *Entry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: cron entry name is required", conveyor.ErrInvalidRequest)
	}
	if err := job.ValidateTenantID(e.TenantID); err != nil {
		return err
	}
	if err := job.ValidateType(e.JobType); err != nil {
		return err
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("%w: invalid cron schedule %q: %w", conveyor.ErrInvalidRequest, e.Schedule, err)
	}

	cp := *e
	next := sched.Next(s.now().UTC())
	cp.NextRunAt = &next

	s.mu.Lock()
	s.entries[cp.Name] = &scheduled{entry: &cp, sched: sched}
	s.mu.Unlock()

	s.logger.Info("cron registered",
		slog.String("name", cp.Name),
		slog.String("schedule", cp.Schedule),
		slog.String("job_type", cp.JobType),
		slog.String("tenant_id", cp.TenantID),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Remove unregisters an entry.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// SetEnabled enables or disables an entry.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: cron entry %q", conveyor.ErrInvalidRequest, name)
	}
	sc.entry.Enabled = enabled
	return nil
}

// Entries returns copies of all entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, *sc.entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(context.Background())
		}
	}
}

// RunDue fires every enabled entry whose NextRunAt has passed and returns
// the number of jobs this scheduler enqueued. Slots missed while the
// scheduler was down are collapsed into one fire.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	due := make([]*scheduled, 0, len(s.entries))
	for _, sc := range s.entries {
		if sc.entry.Enabled && sc.entry.NextRunAt != nil && !sc.entry.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, sc := range due {
		if s.fire(ctx, sc, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) bool {
	s.mu.Lock()
	e := *sc.entry
	s.mu.Unlock()

	slot := *e.NextRunAt
	opts := append([]job.Option{job.WithUniqueKey(SlotKey(e.Name, slot))}, e.Opts...)
	j, err := s.enqueue(ctx, e.TenantID, e.JobType, e.Payload, opts...)

	switch {
	case errors.Is(err, conveyor.ErrJobAlreadyExists):
		s.logger.Debug("cron slot already enqueued",
			slog.String("cron_name", e.Name),
			slog.Time("slot", slot),
		)
	case err != nil:
		// Leave NextRunAt in place so the next tick retries the slot.
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_type", e.JobType),
			slog.String("error", err.Error()),
		)
		return false
	}

	next := sc.sched.Next(now)
	s.mu.Lock()
	sc.entry.LastRunAt = &now
	sc.entry.NextRunAt = &next
	s.mu.Unlock()

	if err != nil {
		return false
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, j.ID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_type", e.JobType),
		slog.String("job_id", j.ID.String()),
		slog.Time("next_run_at", next),
	)
	return true
}
