package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(tenantID, jobType string, priority int, scheduledFor time.Time) *job.Job {
	return &job.Job{
		Entity:       conveyor.NewEntityAt(t0),
		ID:           id.NewJobID(),
		TenantID:     tenantID,
		Type:         jobType,
		Priority:     priority,
		Payload:      []byte(`{"test":true}`),
		State:        job.StatePending,
		ScheduledFor: scheduledFor,
		MaxRetries:   3,
	}
}

func activeStore(t *testing.T, tenants ...string) *Store {
	t.Helper()
	s := New()
	for _, tid := range tenants {
		if err := s.PutTenant(context.Background(), tenant.New(tid, tenant.StatusActive)); err != nil {
			t.Fatalf("PutTenant: %v", err)
		}
	}
	return s
}

func mustEnqueue(t *testing.T, s *Store, j *job.Job) *job.Job {
	t.Helper()
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func mustClaim(t *testing.T, s *Store, opts job.ClaimOpts) *job.Job {
	t.Helper()
	if opts.Now.IsZero() {
		opts.Now = t0
	}
	j, err := s.ClaimJob(context.Background(), opts)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimJob: expected a job, got none")
	}
	return j
}

func TestEnqueueDuplicateID(t *testing.T) {
	t.Parallel()
	s := New()
	j := mustEnqueue(t, s, newJob("t1", "a", 0, t0))

	if err := s.EnqueueJob(context.Background(), j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func TestEnqueueUniqueKey(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := newJob("t1", "a", 0, t0)
	first.UniqueKey = "order-42"
	mustEnqueue(t, s, first)

	dup := newJob("t1", "a", 0, t0)
	dup.UniqueKey = "order-42"
	if err := s.EnqueueJob(ctx, dup); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}

	// Same key, other tenant: allowed.
	other := newJob("t2", "a", 0, t0)
	other.UniqueKey = "order-42"
	mustEnqueue(t, s, other)

	got, err := s.GetJobByUniqueKey(ctx, "t1", "order-42")
	if err != nil {
		t.Fatalf("GetJobByUniqueKey: %v", err)
	}
	if got.ID.String() != first.ID.String() {
		t.Errorf("got %s, want %s", got.ID, first.ID)
	}
	if _, err := s.GetJobByUniqueKey(ctx, "t1", "missing"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimOrdering(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")

	late := mustEnqueue(t, s, newJob("t1", "a", 0, t0.Add(-time.Second)))
	early := mustEnqueue(t, s, newJob("t1", "a", 0, t0.Add(-time.Minute)))
	urgent := mustEnqueue(t, s, newJob("t1", "a", -10, t0))
	mustEnqueue(t, s, newJob("t1", "a", -50, t0.Add(time.Minute))) // not yet due

	want := []*job.Job{urgent, early, late}
	for i, w := range want {
		got := mustClaim(t, s, job.ClaimOpts{})
		if got.ID.String() != w.ID.String() {
			t.Fatalf("claim %d: got %s, want %s", i, got.ID, w.ID)
		}
	}

	if j, err := s.ClaimJob(context.Background(), job.ClaimOpts{Now: t0}); err != nil || j != nil {
		t.Fatalf("expected no eligible job, got %v, %v", j, err)
	}
}

func TestClaimTieBreaksOnID(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")

	a := mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	b := mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	first, second := a, b
	if b.ID.String() < a.ID.String() {
		first, second = b, a
	}

	if got := mustClaim(t, s, job.ClaimOpts{}); got.ID.String() != first.ID.String() {
		t.Fatalf("got %s, want %s", got.ID, first.ID)
	}
	if got := mustClaim(t, s, job.ClaimOpts{}); got.ID.String() != second.ID.String() {
		t.Fatalf("got %s, want %s", got.ID, second.ID)
	}
}

func TestClaimSetsLeaseFields(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))

	got := mustClaim(t, s, job.ClaimOpts{Now: t0})
	if got.State != job.StateProcessing {
		t.Errorf("State = %s, want processing", got.State)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, t0)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
}

func TestClaimHonoursNotBefore(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	j := newJob("t1", "a", 0, t0.Add(-time.Hour))
	nb := t0.Add(time.Minute)
	j.NotBefore = &nb
	mustEnqueue(t, s, j)

	if got, _ := s.ClaimJob(context.Background(), job.ClaimOpts{Now: t0}); got != nil {
		t.Fatal("job must not be claimable before not_before")
	}
	mustClaim(t, s, job.ClaimOpts{Now: nb})
}

func TestClaimFilters(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1", "t2")
	mustEnqueue(t, s, newJob("t1", "message.send", 0, t0))
	reply := mustEnqueue(t, s, newJob("t2", "ai.generate_reply", 0, t0))

	got := mustClaim(t, s, job.ClaimOpts{Types: []string{"ai.generate_reply"}})
	if got.ID.String() != reply.ID.String() {
		t.Fatalf("type filter: got %s", got.Type)
	}
	if j, _ := s.ClaimJob(context.Background(), job.ClaimOpts{Now: t0, TenantID: "t2"}); j != nil {
		t.Fatalf("tenant filter: unexpected %s", j.ID)
	}
	got = mustClaim(t, s, job.ClaimOpts{TenantID: "t1"})
	if got.TenantID != "t1" {
		t.Fatalf("tenant filter: got %s", got.TenantID)
	}
}

func TestClaimTenantGate(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := mustEnqueue(t, s, newJob("t1", "a", 0, t0))

	// Unknown tenant: not claimable.
	if got, _ := s.ClaimJob(ctx, job.ClaimOpts{Now: t0}); got != nil {
		t.Fatal("job of unknown tenant must not be claimable")
	}

	for _, status := range []tenant.Status{tenant.StatusSuspended, tenant.StatusDeleted} {
		if err := s.PutTenant(ctx, tenant.New("t1", status)); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.ClaimJob(ctx, job.ClaimOpts{Now: t0}); got != nil {
			t.Fatalf("job of %s tenant must not be claimable", status)
		}
	}

	stored, _ := s.GetJob(ctx, j.ID)
	if stored.State != job.StatePending {
		t.Fatalf("gated job state = %s, want pending", stored.State)
	}

	if err := s.PutTenant(ctx, tenant.New("t1", tenant.StatusActive)); err != nil {
		t.Fatal(err)
	}
	mustClaim(t, s, job.ClaimOpts{})
}

func TestClaimConcurrentExactlyOnce(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	const jobs = 50
	for range jobs {
		mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimJob(context.Background(), job.ClaimOpts{Now: t0})
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), jobs)
	}
	for jid, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jid, n)
		}
	}
}

func TestLeaseGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name string
		op   func(s *Store, l job.Lease) error
	}{
		{"complete", func(s *Store, l job.Lease) error { return s.CompleteJob(ctx, l, nil, t0) }},
		{"retry", func(s *Store, l job.Lease) error {
			return s.RetryJob(ctx, l, job.RetryUpdate{RetryCount: 1, ScheduledFor: t0, ErrorMessage: "x", At: t0})
		}},
		{"bury", func(s *Store, l job.Lease) error {
			return s.BuryJob(ctx, l, job.DeadUpdate{ErrorMessage: "x", At: t0})
		}},
		{"release", func(s *Store, l job.Lease) error { return s.ReleaseJob(ctx, l, t0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := activeStore(t, "t1")
			mustEnqueue(t, s, newJob("t1", "a", 0, t0))
			claimed := mustClaim(t, s, job.ClaimOpts{})

			stale := job.Lease{JobID: claimed.ID, Attempt: claimed.Attempt - 1}
			if err := tt.op(s, stale); !errors.Is(err, conveyor.ErrLeaseLost) {
				t.Fatalf("stale attempt: expected ErrLeaseLost, got %v", err)
			}

			missing := job.Lease{JobID: id.NewJobID(), Attempt: 1}
			if err := tt.op(s, missing); !errors.Is(err, conveyor.ErrJobNotFound) {
				t.Fatalf("missing job: expected ErrJobNotFound, got %v", err)
			}

			if err := tt.op(s, claimed.Lease()); err != nil {
				t.Fatalf("owning lease: %v", err)
			}

			// Second report with the same lease: job is no longer processing.
			if err := tt.op(s, claimed.Lease()); !errors.Is(err, conveyor.ErrLeaseLost) {
				t.Fatalf("repeat: expected ErrLeaseLost, got %v", err)
			}
		})
	}
}

func TestCompleteStoresResult(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	claimed := mustClaim(t, s, job.ClaimOpts{})

	done := t0.Add(time.Second)
	if err := s.CompleteJob(ctx, claimed.Lease(), []byte(`{"ok":1}`), done); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StateCompleted || string(got.Result) != `{"ok":1}` {
		t.Fatalf("got state %s result %s", got.State, got.Result)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
}

func TestBuryPinsRetryCount(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	claimed := mustClaim(t, s, job.ClaimOpts{})

	if err := s.BuryJob(ctx, claimed.Lease(), job.DeadUpdate{ErrorMessage: "boom", At: t0}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StateDead || got.RetryCount != got.MaxRetries || got.ErrorMessage != "boom" {
		t.Fatalf("got %+v", got)
	}
}

func TestReleaseKeepsRetryBudget(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	claimed := mustClaim(t, s, job.ClaimOpts{})

	runAt := t0.Add(30 * time.Second)
	if err := s.ReleaseJob(ctx, claimed.Lease(), runAt); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StatePending || got.RetryCount != 0 || !got.ScheduledFor.Equal(runAt) {
		t.Fatalf("got %+v", got)
	}

	again := mustClaim(t, s, job.ClaimOpts{Now: runAt})
	if again.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", again.Attempt)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()

	pending := mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	got, err := s.CancelJob(ctx, pending.ID, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateCancelled || got.CompletedAt == nil {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.CancelJob(ctx, pending.ID, t0); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("cancel terminal: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.CancelJob(ctx, id.NewJobID(), t0); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("cancel missing: expected ErrJobNotFound, got %v", err)
	}

	// Cancelling a processing job invalidates its lease.
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	claimed := mustClaim(t, s, job.ClaimOpts{})
	if _, err := s.CancelJob(ctx, claimed.ID, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteJob(ctx, claimed.Lease(), nil, t0); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("complete after cancel: expected ErrLeaseLost, got %v", err)
	}
}

func TestCancelTenantJobs(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1", "t2")
	ctx := context.Background()

	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	mustEnqueue(t, s, newJob("t1", "a", 0, t0.Add(time.Hour)))
	mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	mustEnqueue(t, s, newJob("t2", "a", 0, t0))
	mustClaim(t, s, job.ClaimOpts{TenantID: "t1"})

	n, err := s.CancelTenantJobs(ctx, "t1", t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cancelled %d, want 2 (processing job untouched)", n)
	}
	if c, _ := s.CountJobs(ctx, job.CountOpts{TenantID: "t2", State: job.StatePending}); c != 1 {
		t.Errorf("other tenant pending = %d, want 1", c)
	}
}

func TestListAndCount(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()

	for i := range 5 {
		j := newJob("t1", "a", 0, t0)
		j.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		mustEnqueue(t, s, j)
	}
	mustEnqueue(t, s, newJob("t1", "b", 0, t0))

	page, err := s.ListJobs(ctx, job.ListOpts{Type: "a", Offset: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || !page[0].CreatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("unexpected page: %d entries", len(page))
	}
	if page, _ := s.ListJobs(ctx, job.ListOpts{Offset: 100}); page != nil {
		t.Errorf("offset past end should return nil, got %d", len(page))
	}

	count, _ := s.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if count != 6 {
		t.Errorf("CountJobs = %d, want 6", count)
	}
}

func TestListExpiredLeases(t *testing.T) {
	t.Parallel()
	s := activeStore(t, "t1")
	ctx := context.Background()

	for range 3 {
		mustEnqueue(t, s, newJob("t1", "a", 0, t0))
	}
	mustClaim(t, s, job.ClaimOpts{Now: t0})
	mustClaim(t, s, job.ClaimOpts{Now: t0.Add(5 * time.Minute)})

	stale, err := s.ListExpiredLeases(ctx, t0.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("expired = %d, want 1", len(stale))
	}

	stale, _ = s.ListExpiredLeases(ctx, t0.Add(time.Hour), 1)
	if len(stale) != 1 {
		t.Fatalf("limit not applied: %d", len(stale))
	}
}

// ──────────────────────────────────────────────────
// Tenant Store tests
// ──────────────────────────────────────────────────

func TestTenants(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.GetTenant(ctx, "t1"); !errors.Is(err, conveyor.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	_ = s.PutTenant(ctx, tenant.New("t2", tenant.StatusActive))
	_ = s.PutTenant(ctx, tenant.New("t1", tenant.StatusActive))
	first, _ := s.GetTenant(ctx, "t1")

	_ = s.PutTenant(ctx, tenant.New("t1", tenant.StatusSuspended))
	got, _ := s.GetTenant(ctx, "t1")
	if got.Status != tenant.StatusSuspended {
		t.Errorf("Status = %s", got.Status)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("update must keep CreatedAt")
	}

	all, _ := s.ListTenants(ctx)
	if len(all) != 2 || all[0].ID != "t1" {
		t.Fatalf("ListTenants = %v", all)
	}
}

// ──────────────────────────────────────────────────
// Dead Letter Store tests
// ──────────────────────────────────────────────────

func newEntry(tenantID, correlation string, payload string, at time.Time) *dlq.Entry {
	return &dlq.Entry{
		Entity:        conveyor.NewEntityAt(at),
		ID:            id.NewEntryID(),
		TenantID:      tenantID,
		CorrelationID: correlation,
		Payload:       []byte(payload),
		ContentHash:   dlq.ContentHash([]byte(payload)),
		ErrorMessage:  "parse error",
		Stage:         "webhook.parse",
		FailureCount:  1,
		LastAttemptAt: at,
		Status:        dlq.StatusPending,
	}
}

func TestSubmitDeadLetterDedup(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	window := 5 * time.Minute

	first, deduped, err := s.SubmitDeadLetter(ctx, newEntry("t1", "msg-1", `{"a":1}`, t0), window)
	if err != nil || deduped {
		t.Fatalf("first submit: deduped=%v err=%v", deduped, err)
	}

	second := newEntry("t1", "msg-1", `{"a":1}`, t0.Add(time.Minute))
	second.ErrorMessage = "still broken"
	got, deduped, err := s.SubmitDeadLetter(ctx, second, window)
	if err != nil || !deduped {
		t.Fatalf("second submit: deduped=%v err=%v", deduped, err)
	}
	if got.ID.String() != first.ID.String() || got.FailureCount != 2 || got.ErrorMessage != "still broken" {
		t.Fatalf("got %+v", got)
	}

	tests := []struct {
		name  string
		entry *dlq.Entry
	}{
		{"other payload", newEntry("t1", "msg-1", `{"a":2}`, t0.Add(time.Minute))},
		{"other correlation", newEntry("t1", "msg-2", `{"a":1}`, t0.Add(time.Minute))},
		{"other tenant", newEntry("t2", "msg-1", `{"a":1}`, t0.Add(time.Minute))},
		{"outside window", newEntry("t1", "msg-1", `{"a":1}`, t0.Add(window+time.Second))},
	}
	for _, tt := range tests {
		if _, deduped, _ := s.SubmitDeadLetter(ctx, tt.entry, window); deduped {
			t.Errorf("%s: must not dedup", tt.name)
		}
	}
}

func TestSubmitDeadLetterSkipsResolved(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first, _, _ := s.SubmitDeadLetter(ctx, newEntry("t1", "c", "p", t0), time.Hour)
	if _, err := s.ResolveDeadLetter(ctx, first.ID, "fixed", "ops", t0); err != nil {
		t.Fatal(err)
	}
	if _, deduped, _ := s.SubmitDeadLetter(ctx, newEntry("t1", "c", "p", t0.Add(time.Second)), time.Hour); deduped {
		t.Fatal("resolved entry must not absorb new submissions")
	}
}

func TestClaimDeadLetters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	ready, _, _ := s.SubmitDeadLetter(ctx, newEntry("t1", "a", "1", t0.Add(-time.Hour)), 0)
	s.SubmitDeadLetter(ctx, newEntry("t1", "b", "2", t0), 0) // inside cooldown
	capped := newEntry("t1", "c", "3", t0.Add(-time.Hour))
	capped.FailureCount = 5
	s.SubmitDeadLetter(ctx, capped, 0)
	s.SubmitDeadLetter(ctx, newEntry("t2", "d", "4", t0.Add(-time.Hour)), 0)

	claim := dlq.RetryClaim{TenantID: "t1", Limit: 10, MaxFailures: 5, AttemptedBefore: t0.Add(-5 * time.Minute), Now: t0}
	got, err := s.ClaimDeadLetters(ctx, claim)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != ready.ID.String() || got[0].Status != dlq.StatusRetrying {
		t.Fatalf("got %d entries", len(got))
	}

	// Already retrying: not handed out twice.
	if again, _ := s.ClaimDeadLetters(ctx, claim); len(again) != 0 {
		t.Fatalf("entry claimed twice")
	}

	// All tenants.
	claim.TenantID = ""
	if all, _ := s.ClaimDeadLetters(ctx, claim); len(all) != 1 || all[0].TenantID != "t2" {
		t.Fatalf("cross-tenant claim = %d", len(all))
	}
}

func TestFailDeadLetterRetry(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e, _, _ := s.SubmitDeadLetter(ctx, newEntry("t1", "a", "1", t0.Add(-time.Hour)), 0)
	if _, err := s.FailDeadLetterRetry(ctx, e.ID, "again", t0); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("pending entry: expected ErrInvalidState, got %v", err)
	}

	s.ClaimDeadLetters(ctx, dlq.RetryClaim{Limit: 1, MaxFailures: 5, AttemptedBefore: t0, Now: t0})
	got, err := s.FailDeadLetterRetry(ctx, e.ID, "again", t0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dlq.StatusPending || got.FailureCount != 2 || !got.LastAttemptAt.Equal(t0) {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveDeadLetter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e, _, _ := s.SubmitDeadLetter(ctx, newEntry("t1", "a", "1", t0), 0)
	got, err := s.ResolveDeadLetter(ctx, e.ID, "manual fix", "ops@example.com", t0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dlq.StatusResolved || got.ResolvedAt == nil || got.ResolvedBy != "ops@example.com" {
		t.Fatalf("got %+v", got)
	}
	if _, err := s.ResolveDeadLetter(ctx, e.ID, "", "", t0); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("double resolve: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.ResolveDeadLetter(ctx, id.NewEntryID(), "", "", t0); !errors.Is(err, conveyor.ErrDeadLetterNotFound) {
		t.Fatalf("missing: expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestArchiveAndStats(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	s.SubmitDeadLetter(ctx, newEntry("t1", "old", "1", t0.AddDate(0, 0, -40)), 0)
	noisy := newEntry("t1", "noisy", "2", t0)
	noisy.FailureCount = 5
	s.SubmitDeadLetter(ctx, noisy, 0)
	s.SubmitDeadLetter(ctx, newEntry("t1", "fresh", "3", t0), 0)
	s.SubmitDeadLetter(ctx, newEntry("t2", "other", "4", t0), 0)

	n, err := s.ArchiveDeadLetters(ctx, t0.AddDate(0, 0, -30), 5, t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}

	stats, err := s.DeadLetterStats(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Counts[dlq.StatusArchived] != 2 || stats.Counts[dlq.StatusPending] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgFailureCount != float64(1+5+1)/3 {
		t.Errorf("AvgFailureCount = %v", stats.AvgFailureCount)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(t0.AddDate(0, 0, -40)) || stats.Newest == nil || !stats.Newest.Equal(t0) {
		t.Errorf("Oldest/Newest = %v/%v", stats.Oldest, stats.Newest)
	}

	all, _ := s.DeadLetterStats(ctx, "")
	if all.Total != 4 {
		t.Errorf("all-tenant Total = %d, want 4", all.Total)
	}
}

func TestListDeadLetters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i := range 3 {
		s.SubmitDeadLetter(ctx, newEntry("t1", "c", string(rune('a'+i)), t0.Add(time.Duration(i)*time.Minute)), 0)
	}
	list, err := s.ListDeadLetters(ctx, dlq.ListOpts{TenantID: "t1", Status: dlq.StatusPending, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || !list[0].CreatedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("expected newest first, got %d entries", len(list))
	}

	if _, err := s.GetDeadLetter(ctx, id.NewEntryID()); !errors.Is(err, conveyor.ErrDeadLetterNotFound) {
		t.Fatalf("expected ErrDeadLetterNotFound, got %v", err)
	}
}
