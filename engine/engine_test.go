package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/retry"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/tenant"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type replyPayload struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
}

type replyResult struct {
	Text string `json:"text"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, mutate func(*conveyor.Config), opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	cfg := conveyor.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LeaseCheckInterval = 10 * time.Millisecond
	cfg.ReaperInterval = 0
	cfg.DLQArchiveInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := conveyor.New(conveyor.WithStore(s), conveyor.WithConfig(cfg))
	if err != nil {
		t.Fatalf("conveyor.New: %v", err)
	}
	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if _, err := eng.SetTenantStatus(context.Background(), "acme", tenant.StatusActive); err != nil {
		t.Fatalf("SetTenantStatus: %v", err)
	}
	return eng, s
}

func claim(t *testing.T, eng *engine.Engine) *job.Job {
	t.Helper()
	j, ok, err := eng.ClaimNext(context.Background(), job.ClaimOpts{})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if !ok {
		t.Fatal("ClaimNext: nothing claimed")
	}
	return j
}

func waitForState(t *testing.T, eng *engine.Engine, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		got, err := eng.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q, job is %q", want, got.State)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// trackingExt records which hooks fired.
type trackingExt struct {
	enqueued, started, completed, retrying, dead, cancelled atomic.Int32
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobEnqueued(context.Context, *job.Job) error {
	e.enqueued.Add(1)
	return nil
}

func (e *trackingExt) OnJobStarted(context.Context, *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *trackingExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *trackingExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	e.retrying.Add(1)
	return nil
}

func (e *trackingExt) OnJobDead(context.Context, *job.Job) error {
	e.dead.Add(1)
	return nil
}

func (e *trackingExt) OnJobCancelled(context.Context, *job.Job) error {
	e.cancelled.Add(1)
	return nil
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	tracker := &trackingExt{}
	eng, _ := newEngine(t, nil, engine.WithExtension(tracker))
	ctx := context.Background()

	engine.Register(eng, job.NewResultDefinition(job.TypeGenerateReply,
		func(ctx context.Context, p replyPayload) (replyResult, error) {
			if tid, _ := tenant.FromContext(ctx); tid != "acme" {
				t.Errorf("tenant in context = %q, want acme", tid)
			}
			return replyResult{Text: "re: " + p.Prompt}, nil
		}))

	j, err := engine.Enqueue(ctx, eng, "acme", job.TypeGenerateReply, replyPayload{
		ConversationID: "conv-1",
		Prompt:         "hello",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.State != job.StatePending || j.MaxRetries != job.DefaultMaxRetries {
		t.Errorf("enqueued job = state %q max_retries %d", j.State, j.MaxRetries)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := waitForState(t, eng, j.ID, job.StateCompleted)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if string(got.Result) != `{"text":"re: hello"}` {
		t.Errorf("result = %s", got.Result)
	}
	if got.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", got.Attempt)
	}
	if tracker.enqueued.Load() != 1 || tracker.started.Load() != 1 || tracker.completed.Load() != 1 {
		t.Errorf("hooks enqueued=%d started=%d completed=%d",
			tracker.enqueued.Load(), tracker.started.Load(), tracker.completed.Load())
	}
}

func TestBuild_RequiresStore(t *testing.T) {
	c, err := conveyor.New()
	if err != nil {
		t.Fatalf("conveyor.New: %v", err)
	}
	if _, err := engine.Build(c); !errors.Is(err, conveyor.ErrNoStore) {
		t.Fatalf("Build error = %v, want ErrNoStore", err)
	}
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

func TestEnqueueRaw_Validation(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		tenant  string
		jobType string
		payload []byte
		opts    []job.Option
		want    error
	}{
		{"empty tenant", "", job.TypeSendMessage, nil, nil, conveyor.ErrInvalidTenant},
		{"tenant with space", "ac me", job.TypeSendMessage, nil, nil, conveyor.ErrInvalidTenant},
		{"bad type", "acme", "Send Message", nil, nil, conveyor.ErrInvalidJob},
		{"priority too low", "acme", job.TypeSendMessage, nil, []job.Option{job.WithPriority(-101)}, conveyor.ErrInvalidJob},
		{"retries too high", "acme", job.TypeSendMessage, nil, []job.Option{job.WithMaxRetries(101)}, conveyor.ErrInvalidJob},
		{"payload not json", "acme", job.TypeSendMessage, []byte("{nope"), nil, conveyor.ErrInvalidJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.EnqueueRaw(ctx, tt.tenant, tt.jobType, tt.payload, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnqueueRaw_UnknownTenantAccepted(t *testing.T) {
	eng, _ := newEngine(t, nil)
	j, err := eng.EnqueueRaw(context.Background(), "globex", job.TypeSendMessage, []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	// No tenant row means not active: the job waits.
	if _, ok, _ := eng.ClaimNext(context.Background(), job.ClaimOpts{}); ok {
		t.Fatal("job of an unknown tenant was claimed")
	}
	if _, err := eng.SetTenantStatus(context.Background(), "globex", tenant.StatusActive); err != nil {
		t.Fatalf("SetTenantStatus: %v", err)
	}
	got := claim(t, eng)
	if got.ID.String() != j.ID.String() {
		t.Fatalf("claimed %s, want %s", got.ID, j.ID)
	}
}

func TestEnqueueRaw_DefinitionDefaults(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	engine.Register(eng, job.NewDefinition(job.TypeProcessImage,
		func(context.Context, struct{}) error { return nil },
		job.WithMaxRetries(5), job.WithPriority(10), job.WithTimeout(time.Minute),
	))

	j, err := eng.EnqueueRaw(ctx, "acme", job.TypeProcessImage, nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if j.MaxRetries != 5 || j.Priority != 10 || j.Timeout != time.Minute {
		t.Errorf("defaults not applied: retries=%d priority=%d timeout=%v", j.MaxRetries, j.Priority, j.Timeout)
	}

	j, err = eng.EnqueueRaw(ctx, "acme", job.TypeProcessImage, nil, job.WithPriority(-5))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if j.Priority != -5 || j.MaxRetries != 5 {
		t.Errorf("override not applied: priority=%d retries=%d", j.Priority, j.MaxRetries)
	}
}

func TestEnqueueRaw_UniqueKeyReturnsExisting(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	first, err := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, []byte(`{"n":1}`), job.WithUniqueKey("msg-42"))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	again, err := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, []byte(`{"n":2}`), job.WithUniqueKey("msg-42"))
	if !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("error = %v, want ErrJobAlreadyExists", err)
	}
	if again == nil || again.ID.String() != first.ID.String() {
		t.Fatalf("expected the existing job back, got %v", again)
	}

	// Keys are per tenant.
	if _, err := eng.EnqueueRaw(ctx, "globex", job.TypeSendMessage, nil, job.WithUniqueKey("msg-42")); err != nil {
		t.Fatalf("same key for another tenant: %v", err)
	}
}

func TestEnqueueRaw_Scheduling(t *testing.T) {
	c := &clock{now: t0}
	eng, _ := newEngine(t, nil, engine.WithClock(c.Now))
	ctx := context.Background()

	nb := t0.Add(time.Hour)
	j, err := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil,
		job.WithRunAt(t0.Add(time.Minute)), job.WithNotBefore(nb))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if !j.ScheduledFor.Equal(t0.Add(time.Minute)) || !j.EligibleAt().Equal(nb) {
		t.Fatalf("scheduled_for=%v eligible_at=%v", j.ScheduledFor, j.EligibleAt())
	}

	c.Set(t0.Add(30 * time.Minute))
	if _, ok, _ := eng.ClaimNext(ctx, job.ClaimOpts{}); ok {
		t.Fatal("claimed before not_before")
	}
	c.Set(nb)
	claim(t, eng)
}

// ──────────────────────────────────────────────────
// Claim and tenant gate
// ──────────────────────────────────────────────────

func TestClaimNext_PriorityOrder(t *testing.T) {
	c := &clock{now: t0}
	eng, _ := newEngine(t, nil, engine.WithClock(c.Now))
	ctx := context.Background()

	low, _ := eng.EnqueueRaw(ctx, "acme", job.TypeUpdateScore, nil, job.WithPriority(10))
	urgent, _ := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil, job.WithPriority(-10))

	if got := claim(t, eng); got.ID.String() != urgent.ID.String() {
		t.Fatalf("claimed %s first, want the urgent job", got.Type)
	}
	if got := claim(t, eng); got.ID.String() != low.ID.String() {
		t.Fatalf("claimed %s second, want the low priority job", got.Type)
	}
	if _, ok, _ := eng.ClaimNext(ctx, job.ClaimOpts{}); ok {
		t.Fatal("nothing should be left")
	}
}

func TestClaimNext_SuspendedTenantInvisible(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	if _, err := eng.SetTenantStatus(ctx, "acme", tenant.StatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil)
	if _, ok, _ := eng.ClaimNext(ctx, job.ClaimOpts{}); ok {
		t.Fatal("suspended tenant's job was claimed")
	}

	got, _ := eng.Get(ctx, j.ID)
	if got.State != job.StatePending {
		t.Fatalf("state = %q, want pending", got.State)
	}

	if _, err := eng.SetTenantStatus(ctx, "acme", tenant.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	claim(t, eng)
}

func TestSetTenantStatus_DeletedCancelsPending(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	for range 3 {
		if _, err := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}
	ten, err := eng.SetTenantStatus(ctx, "acme", tenant.StatusDeleted)
	if err != nil {
		t.Fatalf("SetTenantStatus: %v", err)
	}
	if ten.Status != tenant.StatusDeleted {
		t.Errorf("status = %q", ten.Status)
	}
	n, _ := eng.Count(ctx, job.CountOpts{TenantID: "acme", State: job.StateCancelled})
	if n != 3 {
		t.Fatalf("cancelled = %d, want 3", n)
	}

	if _, err := eng.SetTenantStatus(ctx, "acme", "archived"); !errors.Is(err, conveyor.ErrInvalidTenant) {
		t.Fatalf("unknown status error = %v", err)
	}
}

// ──────────────────────────────────────────────────
// Complete, fail, release, cancel
// ──────────────────────────────────────────────────

func TestMarkCompleted_StaleLeaseRejected(t *testing.T) {
	c := &clock{now: t0}
	eng, _ := newEngine(t, nil, engine.WithClock(c.Now))
	ctx := context.Background()

	j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeGenerateReply, nil)
	first := claim(t, eng)

	// The lease expires and the reaper hands the job to someone else.
	c.Set(t0.Add(time.Hour))
	if n, err := eng.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	c.Set(t0.Add(time.Hour + time.Second))
	second := claim(t, eng)
	if second.Attempt != first.Attempt+1 {
		t.Fatalf("attempt = %d, want %d", second.Attempt, first.Attempt+1)
	}

	if err := eng.MarkCompleted(ctx, first.Lease(), []byte(`{"text":"late"}`)); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("late MarkCompleted error = %v, want ErrLeaseLost", err)
	}
	if err := eng.MarkCompleted(ctx, second.Lease(), []byte(`{"text":"ok"}`)); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ := eng.Get(ctx, j.ID)
	if got.State != job.StateCompleted || string(got.Result) != `{"text":"ok"}` {
		t.Fatalf("job = %q %s", got.State, got.Result)
	}
	if err := eng.MarkCompleted(ctx, second.Lease(), nil); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("double MarkCompleted error = %v, want ErrLeaseLost", err)
	}
}

func TestMarkFailed_WorkedExample(t *testing.T) {
	c := &clock{now: t0}
	eng, _ := newEngine(t, nil, engine.WithClock(c.Now))
	ctx := context.Background()

	j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeGenerateReply, nil, job.WithMaxRetries(3))

	now := t0
	for i, delay := range []time.Duration{time.Second, 5 * time.Second, 25 * time.Second} {
		claimed := claim(t, eng)
		res, err := eng.MarkFailed(ctx, claimed.Lease(), "model overloaded", "")
		if err != nil {
			t.Fatalf("MarkFailed %d: %v", i+1, err)
		}
		if res.Outcome != retry.OutcomeRetrying {
			t.Fatalf("failure %d outcome = %q", i+1, res.Outcome)
		}
		if want := now.Add(delay); !res.NextRunAt.Equal(want) {
			t.Fatalf("failure %d next run = %v, want %v", i+1, res.NextRunAt, want)
		}
		now = res.NextRunAt
		c.Set(now)
	}

	claimed := claim(t, eng)
	res, err := eng.MarkFailed(ctx, claimed.Lease(), "model overloaded", "")
	if err != nil {
		t.Fatalf("final MarkFailed: %v", err)
	}
	if res.Outcome != retry.OutcomeDead {
		t.Fatalf("final outcome = %q, want dead", res.Outcome)
	}
	got, _ := eng.Get(ctx, j.ID)
	if got.State != job.StateDead || got.RetryCount != 3 || got.ErrorMessage != "model overloaded" {
		t.Fatalf("dead job = state %q retry_count %d error %q", got.State, got.RetryCount, got.ErrorMessage)
	}
}

func TestDeadJobPolicy(t *testing.T) {
	tests := []struct {
		name       string
		policy     conveyor.DeadJobPolicy
		optIn      bool
		wantEntries int
	}{
		{"none ignores opt-in", conveyor.DeadJobKeep, true, 0},
		{"opt-in without flag", conveyor.DeadJobOptIn, false, 0},
		{"opt-in with flag", conveyor.DeadJobOptIn, true, 1},
		{"all", conveyor.DeadJobForwardAll, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := newEngine(t, func(cfg *conveyor.Config) { cfg.DeadJobPolicy = tt.policy })
			ctx := context.Background()

			opts := []job.Option{job.WithMaxRetries(0)}
			if tt.optIn {
				opts = append(opts, job.WithDeadLetter())
			}
			j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, []byte(`{"to":"+15550100"}`), opts...)
			claimed := claim(t, eng)
			if _, err := eng.MarkFailed(ctx, claimed.Lease(), "provider rejected", "stack"); err != nil {
				t.Fatalf("MarkFailed: %v", err)
			}

			entries, err := eng.DLQ().List(ctx, dlq.ListOpts{TenantID: "acme"})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != tt.wantEntries {
				t.Fatalf("entries = %d, want %d", len(entries), tt.wantEntries)
			}
			if tt.wantEntries == 1 {
				e := entries[0]
				if e.Stage != dlq.StageJobDead || e.JobID != j.ID.String() || e.JobType != job.TypeSendMessage {
					t.Errorf("entry = stage %q job %q type %q", e.Stage, e.JobID, e.JobType)
				}
				if e.ErrorMessage != "provider rejected" || e.Stack != "stack" {
					t.Errorf("entry error = %q stack %q", e.ErrorMessage, e.Stack)
				}
			}
		})
	}
}

func TestRelease_DoesNotConsumeRetry(t *testing.T) {
	c := &clock{now: t0}
	eng, _ := newEngine(t, nil, engine.WithClock(c.Now))
	ctx := context.Background()

	j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil)
	claimed := claim(t, eng)
	if err := eng.Release(ctx, claimed.Lease(), time.Minute); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, _ := eng.Get(ctx, j.ID)
	if got.State != job.StatePending || got.RetryCount != 0 || !got.ScheduledFor.Equal(t0.Add(time.Minute)) {
		t.Fatalf("released job = %q retry %d scheduled %v", got.State, got.RetryCount, got.ScheduledFor)
	}
	if err := eng.Release(ctx, claimed.Lease(), 0); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("second Release error = %v, want ErrLeaseLost", err)
	}
}

func TestCancel(t *testing.T) {
	tracker := &trackingExt{}
	eng, _ := newEngine(t, nil, engine.WithExtension(tracker))
	ctx := context.Background()

	j, _ := eng.EnqueueRaw(ctx, "acme", job.TypeGenerateReply, nil)
	claimed := claim(t, eng)

	cancelled, err := eng.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != job.StateCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("cancelled job = %q completed_at %v", cancelled.State, cancelled.CompletedAt)
	}
	if tracker.cancelled.Load() != 1 {
		t.Errorf("cancelled hooks = %d", tracker.cancelled.Load())
	}

	if err := eng.MarkCompleted(ctx, claimed.Lease(), nil); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("MarkCompleted after cancel = %v, want ErrLeaseLost", err)
	}
	if _, err := eng.MarkFailed(ctx, claimed.Lease(), "x", ""); !errors.Is(err, conveyor.ErrLeaseLost) {
		t.Fatalf("MarkFailed after cancel = %v, want ErrLeaseLost", err)
	}
	if _, err := eng.Cancel(ctx, j.ID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("second Cancel = %v, want ErrInvalidState", err)
	}
	if _, err := eng.Cancel(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("Cancel unknown = %v, want ErrJobNotFound", err)
	}
}

func TestPool_CancelStopsRunningHandler(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	var started, stopped atomic.Bool
	engine.Register(eng, job.NewDefinition(job.TypeGenerateReply, func(ctx context.Context, _ replyPayload) error {
		started.Store(true)
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	}))
	j, _ := engine.Enqueue(ctx, eng, "acme", job.TypeGenerateReply, replyPayload{Prompt: "long"})

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	})

	deadline := time.After(5 * time.Second)
	for !started.Load() {
		select {
		case <-deadline:
			t.Fatal("handler never started")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if _, err := eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	for !stopped.Load() {
		select {
		case <-deadline:
			t.Fatal("handler context was never cancelled")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got, _ := eng.Get(ctx, j.ID); got.State != job.StateCancelled {
		t.Fatalf("state = %q, want cancelled", got.State)
	}
}

func TestPool_InvalidResultFailsAttempt(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	eng.Registry().Register(job.TypeGenerateReply, func(context.Context, []byte) ([]byte, error) {
		return []byte(`{"text":"cut off`), nil
	}, job.Options{})
	j, err := eng.EnqueueRaw(ctx, "acme", job.TypeGenerateReply, nil, job.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	})

	got := waitForState(t, eng, j.ID, job.StateDead)
	if !strings.Contains(got.ErrorMessage, "not valid JSON") {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
	if len(got.Result) != 0 {
		t.Errorf("result = %s, want none", got.Result)
	}
}

// ──────────────────────────────────────────────────
// Dead letters and metrics
// ──────────────────────────────────────────────────

func TestDLQ_ReplayEnqueuesThroughEngine(t *testing.T) {
	eng, _ := newEngine(t, nil)
	ctx := context.Background()

	e, _, err := eng.DLQ().Submit(ctx, dlq.Submission{
		TenantID:     "acme",
		Payload:      []byte(`{"conversation_id":"conv-9"}`),
		ErrorMessage: "webhook handler crashed",
		Stage:        "webhook.parse",
		JobType:      job.TypeGenerateReply,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	j, err := eng.DLQ().Replay(ctx, e.ID, "ops@acme")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, err := eng.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TenantID != "acme" || got.Type != job.TypeGenerateReply || got.State != job.StatePending {
		t.Fatalf("replayed job = %s/%s %q", got.TenantID, got.Type, got.State)
	}
	resolved, _ := eng.DLQ().Get(ctx, e.ID)
	if resolved.Status != dlq.StatusResolved {
		t.Fatalf("entry status = %q, want resolved", resolved.Status)
	}
}

func TestWithPrometheus_CountsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng, _ := newEngine(t, nil, engine.WithPrometheus(reg))
	ctx := context.Background()

	_, _ = eng.EnqueueRaw(ctx, "acme", job.TypeSendMessage, nil, job.WithMaxRetries(0))
	claimed := claim(t, eng)
	if _, err := eng.MarkFailed(ctx, claimed.Lease(), "boom", ""); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	m := eng.Metrics()
	if got := testutil.ToFloat64(m.JobsEnqueued.WithLabelValues(job.TypeSendMessage)); got != 1 {
		t.Errorf("enqueued = %v", got)
	}
	if got := testutil.ToFloat64(m.JobsDead.WithLabelValues(job.TypeSendMessage)); got != 1 {
		t.Errorf("dead = %v", got)
	}
}
