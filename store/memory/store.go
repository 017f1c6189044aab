// Package memory provides a fully in-memory implementation of store.Store.
// A single mutex serializes claims, so it reproduces the skip-locked
// semantics of the durable stores within one process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store    = (*Store)(nil)
	_ tenant.Store = (*Store)(nil)
	_ dlq.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	unique  map[string]string // "tenant|key" → job ID
	tenants map[string]*tenant.Tenant
	entries map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		unique:  make(map[string]string),
		tenants: make(map[string]*tenant.Tenant),
		entries: make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close.
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

func uniqueKey(tenantID, key string) string { return tenantID + "|" + key }

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	if j.UniqueKey != "" {
		uk := uniqueKey(j.TenantID, j.UniqueKey)
		if _, exists := m.unique[uk]; exists {
			return conveyor.ErrJobAlreadyExists
		}
		m.unique[uk] = key
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJob claims the most urgent eligible pending job of an active tenant.
func (m *Store) ClaimJob(_ context.Context, opts job.ClaimOpts) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	typeSet := make(map[string]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		typeSet[t] = struct{}{}
	}

	var best *job.Job
	for _, j := range m.jobs {
		if !j.Eligible(now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[j.Type]; !ok {
				continue
			}
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		if !m.tenants[j.TenantID].Active() {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = job.StateProcessing
	best.StartedAt = &now
	best.Attempt++
	best.UpdatedAt = now

	// Return a copy so callers can mutate without racing with the store.
	cp := *best
	return &cp, nil
}

// claimsBefore orders by priority ASC, scheduled_for ASC, id ASC.
func claimsBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return id.Compare(a.ID, b.ID) < 0
}

// leased returns the stored job if lease owns it. Caller holds m.mu.
func (m *Store) leased(lease job.Lease) (*job.Job, error) {
	j, ok := m.jobs[lease.JobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	if !lease.Owns(j) {
		return nil, conveyor.ErrLeaseLost
	}
	return j, nil
}

// CompleteJob moves a processing job to completed.
func (m *Store) CompleteJob(_ context.Context, lease job.Lease, result []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	at = at.UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.CompletedAt = &at
	j.UpdatedAt = at
	return nil
}

// RetryJob moves a processing job back to pending with a new schedule.
func (m *Store) RetryJob(_ context.Context, lease job.Lease, u job.RetryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	at := u.At.UTC()
	j.State = job.StatePending
	j.RetryCount = u.RetryCount
	j.ScheduledFor = u.ScheduledFor.UTC()
	j.ErrorMessage = u.ErrorMessage
	j.ErrorStack = u.ErrorStack
	j.LastErrorAt = &at
	j.UpdatedAt = at
	return nil
}

// BuryJob moves a processing job to dead.
func (m *Store) BuryJob(_ context.Context, lease job.Lease, u job.DeadUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	at := u.At.UTC()
	j.State = job.StateDead
	j.RetryCount = j.MaxRetries
	j.ErrorMessage = u.ErrorMessage
	j.ErrorStack = u.ErrorStack
	j.LastErrorAt = &at
	j.CompletedAt = &at
	j.UpdatedAt = at
	return nil
}

// ReleaseJob returns a processing job to pending without consuming a retry.
func (m *Store) ReleaseJob(_ context.Context, lease job.Lease, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	j.State = job.StatePending
	j.ScheduledFor = runAt.UTC()
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelJob cancels a pending or processing job.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, at time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	if j.State.Terminal() {
		return nil, fmt.Errorf("%w: job is %s", conveyor.ErrInvalidState, j.State)
	}
	at = at.UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &at
	j.UpdatedAt = at
	cp := *j
	return &cp, nil
}

// CancelTenantJobs cancels every pending job of a tenant.
func (m *Store) CancelTenantJobs(_ context.Context, tenantID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at = at.UTC()
	var n int64
	for _, j := range m.jobs {
		if j.TenantID != tenantID || j.State != job.StatePending {
			continue
		}
		ts := at
		j.State = job.StateCancelled
		j.CompletedAt = &ts
		j.UpdatedAt = at
		n++
	}
	return n, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetJobByUniqueKey retrieves a job by its tenant-scoped unique key.
func (m *Store) GetJobByUniqueKey(_ context.Context, tenantID, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.unique[uniqueKey(tenantID, key)]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *m.jobs[jobID]
	return &cp, nil
}

// ListJobs returns jobs matching opts, oldest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !jobMatches(j, opts.TenantID, opts.Type, opts.State) {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return id.Compare(result[i].ID, result[k].ID) < 0
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListExpiredLeases returns processing jobs started before startedBefore.
func (m *Store) ListExpiredLeases(_ context.Context, startedBefore time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateProcessing || j.StartedAt == nil {
			continue
		}
		if j.StartedAt.Before(startedBefore) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, k int) bool {
		return stale[i].StartedAt.Before(*stale[k].StartedAt)
	})
	return paginate(stale, 0, limit), nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if jobMatches(j, opts.TenantID, opts.Type, opts.State) {
			count++
		}
	}
	return count, nil
}

func jobMatches(j *job.Job, tenantID, jobType string, state job.State) bool {
	if tenantID != "" && j.TenantID != tenantID {
		return false
	}
	if jobType != "" && j.Type != jobType {
		return false
	}
	if state != "" && j.State != state {
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Tenant Store
// ──────────────────────────────────────────────────

// PutTenant creates or updates a tenant.
func (m *Store) PutTenant(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := *t
	if prev, ok := m.tenants[t.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.tenants[t.ID] = &cp
	return nil
}

// GetTenant retrieves a tenant by ID.
func (m *Store) GetTenant(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, conveyor.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTenants returns all tenants ordered by ID.
func (m *Store) ListTenants(_ context.Context) ([]*tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// SubmitDeadLetter stores e or folds it into a matching pending entry.
func (m *Store) SubmitDeadLetter(_ context.Context, e *dlq.Entry, window time.Duration) (*dlq.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var match *dlq.Entry
	for _, existing := range m.entries {
		if !existing.Matches(e, window) {
			continue
		}
		if match == nil || existing.CreatedAt.After(match.CreatedAt) {
			match = existing
		}
	}

	if match != nil {
		match.FailureCount++
		match.ErrorMessage = e.ErrorMessage
		match.ErrorCode = e.ErrorCode
		match.Stack = e.Stack
		match.LastAttemptAt = e.LastAttemptAt
		match.UpdatedAt = e.CreatedAt
		cp := *match
		return &cp, true, nil
	}

	cp := *e
	m.entries[e.ID.String()] = &cp
	out := cp
	return &out, false, nil
}

// ClaimDeadLetters moves eligible pending entries to retrying.
func (m *Store) ClaimDeadLetters(_ context.Context, c dlq.RetryClaim) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*dlq.Entry
	for _, e := range m.entries {
		if e.Status != dlq.StatusPending {
			continue
		}
		if c.TenantID != "" && e.TenantID != c.TenantID {
			continue
		}
		if e.FailureCount >= c.MaxFailures {
			continue
		}
		if !e.LastAttemptAt.Before(c.AttemptedBefore) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].LastAttemptAt.Before(candidates[k].LastAttemptAt)
	})
	candidates = paginate(candidates, 0, c.Limit)

	now := c.Now.UTC()
	result := make([]*dlq.Entry, len(candidates))
	for i, e := range candidates {
		e.Status = dlq.StatusRetrying
		e.UpdatedAt = now
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

// FailDeadLetterRetry returns a retrying entry to pending.
func (m *Store) FailDeadLetterRetry(_ context.Context, entryID id.EntryID, errMsg string, at time.Time) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDeadLetterNotFound
	}
	if e.Status != dlq.StatusRetrying {
		return nil, fmt.Errorf("%w: entry is %s", conveyor.ErrInvalidState, e.Status)
	}
	at = at.UTC()
	e.Status = dlq.StatusPending
	e.FailureCount++
	if errMsg != "" {
		e.ErrorMessage = errMsg
	}
	e.LastAttemptAt = at
	e.UpdatedAt = at
	cp := *e
	return &cp, nil
}

// ResolveDeadLetter moves a pending or retrying entry to resolved.
func (m *Store) ResolveDeadLetter(_ context.Context, entryID id.EntryID, notes, resolvedBy string, at time.Time) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDeadLetterNotFound
	}
	if e.Status != dlq.StatusPending && e.Status != dlq.StatusRetrying {
		return nil, fmt.Errorf("%w: entry is %s", conveyor.ErrInvalidState, e.Status)
	}
	at = at.UTC()
	e.Status = dlq.StatusResolved
	e.ResolutionNotes = notes
	e.ResolvedBy = resolvedBy
	e.ResolvedAt = &at
	e.UpdatedAt = at
	cp := *e
	return &cp, nil
}

// ArchiveDeadLetters archives stale or repeatedly failing pending entries.
func (m *Store) ArchiveDeadLetters(_ context.Context, createdBefore time.Time, maxFailures int, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, e := range m.entries {
		if e.Status != dlq.StatusPending {
			continue
		}
		if e.CreatedAt.Before(createdBefore) || e.FailureCount >= maxFailures {
			e.Status = dlq.StatusArchived
			e.UpdatedAt = at.UTC()
			n++
		}
	}
	return n, nil
}

// DeadLetterStats aggregates entries of one tenant or all tenants.
func (m *Store) DeadLetterStats(_ context.Context, tenantID string) (*dlq.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &dlq.Stats{Counts: make(map[dlq.Status]int64)}
	var failures int64
	for _, e := range m.entries {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		stats.Counts[e.Status]++
		stats.Total++
		failures += int64(e.FailureCount)
		created := e.CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			stats.Oldest = &created
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			c := created
			stats.Newest = &c
		}
	}
	if stats.Total > 0 {
		stats.AvgFailureCount = float64(failures) / float64(stats.Total)
	}
	return stats, nil
}

// GetDeadLetter retrieves an entry by ID.
func (m *Store) GetDeadLetter(_ context.Context, entryID id.EntryID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDeadLetterNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDeadLetters returns entries matching opts, newest first.
func (m *Store) ListDeadLetters(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
