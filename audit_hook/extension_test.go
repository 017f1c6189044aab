package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, evt := range m.events {
		out[i] = evt.Action
	}
	return out
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:           id.NewJobID(),
		TenantID:     "acme",
		Type:         job.TypeSendMessage,
		ScheduledFor: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxRetries:   3,
		RetryCount:   1,
		Attempt:      2,
	}
}

func newTestEntry() *dlq.Entry {
	return &dlq.Entry{
		ID:            id.NewEntryID(),
		TenantID:      "acme",
		CorrelationID: "msg-42",
		ErrorMessage:  "template missing",
		Stage:         "render",
		FailureCount:  2,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceJob {
		t.Errorf("Resource: want %q, got %q", ah.ResourceJob, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.TenantID != "acme" {
		t.Errorf("TenantID: want %q, got %q", "acme", evt.TenantID)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["job_type"] != job.TypeSendMessage {
		t.Errorf("Metadata[job_type]: got %v", evt.Metadata["job_type"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), newTestJob(), elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want 2, got %v", evt.Metadata["attempt"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.ErrorMessage = "provider 503"
	next := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)

	if err := e.OnJobRetrying(context.Background(), j, 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Reason != "provider 503" {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["retry_count"] != 2 {
		t.Errorf("Metadata[retry_count]: want 2, got %v", evt.Metadata["retry_count"])
	}
	if evt.Metadata["next_run_at"] != "2026-01-01T00:00:05Z" {
		t.Errorf("Metadata[next_run_at]: got %v", evt.Metadata["next_run_at"])
	}
}

func TestExtension_JobDead(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.RetryCount = 3
	j.ErrorMessage = "invalid recipient"

	if err := e.OnJobDead(context.Background(), j); err != nil {
		t.Fatalf("OnJobDead: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobDead {
		t.Errorf("Action: want %q, got %q", ah.ActionJobDead, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "invalid recipient" {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["retry_count"] != 3 {
		t.Errorf("Metadata[retry_count]: want 3, got %v", evt.Metadata["retry_count"])
	}
}

func TestExtension_JobCancelledAndReaped(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobCancelled(ctx, j)
	_ = e.OnJobReaped(ctx, j)

	got := rec.actions()
	if len(got) != 2 || got[0] != ah.ActionJobCancelled || got[1] != ah.ActionJobReaped {
		t.Fatalf("actions: got %v", got)
	}
	if rec.last().Outcome != ah.OutcomeFailure {
		t.Errorf("reaped Outcome: want failure, got %q", rec.last().Outcome)
	}
}

// ── Dead letter tests ────────────────────────────────

func TestExtension_DeadLetterSubmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	entry := newTestEntry()

	if err := e.OnDeadLetterSubmitted(context.Background(), entry, true); err != nil {
		t.Fatalf("OnDeadLetterSubmitted: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceDeadLetter || evt.Category != ah.CategoryDeadLetter {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != entry.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", entry.ID.String(), evt.ResourceID)
	}
	if evt.Reason != "template missing" {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["deduped"] != true {
		t.Errorf("Metadata[deduped]: want true, got %v", evt.Metadata["deduped"])
	}
	if evt.Metadata["stage"] != "render" {
		t.Errorf("Metadata[stage]: got %v", evt.Metadata["stage"])
	}
}

func TestExtension_DeadLetterResolved(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	entry := newTestEntry()
	entry.ResolvedBy = "ops@acme"
	entry.ResolutionNotes = "fixed template"

	if err := e.OnDeadLetterResolved(context.Background(), entry); err != nil {
		t.Fatalf("OnDeadLetterResolved: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionDeadLetterResolved {
		t.Errorf("Action: got %q", evt.Action)
	}
	if evt.Metadata["resolved_by"] != "ops@acme" {
		t.Errorf("Metadata[resolved_by]: got %v", evt.Metadata["resolved_by"])
	}
}

// ── Cron tests ───────────────────────────────────────

func TestExtension_CronFired(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	jobID := id.NewJobID()

	if err := e.OnCronFired(context.Background(), "nightly-digest", jobID); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceCron {
		t.Errorf("Resource: want %q, got %q", ah.ResourceCron, evt.Resource)
	}
	if evt.ResourceID != "nightly-digest" {
		t.Errorf("ResourceID: got %q", evt.ResourceID)
	}
	if evt.Metadata["job_id"] != jobID.String() {
		t.Errorf("Metadata[job_id]: got %v", evt.Metadata["job_id"])
	}
}

// ── Options & plumbing ───────────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobDead))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	_ = e.OnJobDead(ctx, j)

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().Action != ah.ActionJobDead {
		t.Errorf("Action: got %q", rec.last().Action)
	}
}

func TestRecorderFunc(t *testing.T) {
	var got *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		got = evt
		return nil
	})

	e := ah.New(fn)
	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}
	if got == nil || got.Action != ah.ActionJobCancelled {
		t.Fatalf("RecorderFunc not called with cancelled event: %+v", got)
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	fn := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(fn, ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := e.OnJobDead(context.Background(), newTestJob()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDead(ctx, j)
	reg.EmitDeadLetterSubmitted(ctx, newTestEntry(), false)
	reg.EmitCronFired(ctx, "hourly", id.NewJobID())

	if rec.count() != 6 {
		t.Fatalf("expected 6 events, got %d: %v", rec.count(), rec.actions())
	}
}

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 10 {
		t.Fatalf("expected 10 actions, got %d", len(actions))
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action %q", a)
		}
		seen[a] = true
	}
}
