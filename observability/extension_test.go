package observability_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/observability"
)

func newTestExtension(t *testing.T) *observability.MetricsExtension {
	t.Helper()
	m, err := observability.NewMetricsExtension(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetricsExtension: %v", err)
	}
	return m
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		TenantID: "acme",
		Type:     job.TypeSendMessage,
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("Name: got %q", e.Name())
	}
}

func TestMetricsExtension_JobCounters(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()
	j := newTestJob()

	hooks := []struct {
		name    string
		fire    func() error
		counter *prometheus.CounterVec
	}{
		{"enqueued", func() error { return e.OnJobEnqueued(ctx, j) }, e.JobsEnqueued},
		{"started", func() error { return e.OnJobStarted(ctx, j) }, e.JobsStarted},
		{"completed", func() error { return e.OnJobCompleted(ctx, j, 20*time.Millisecond) }, e.JobsCompleted},
		{"retried", func() error { return e.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Second)) }, e.JobsRetried},
		{"dead", func() error { return e.OnJobDead(ctx, j) }, e.JobsDead},
		{"cancelled", func() error { return e.OnJobCancelled(ctx, j) }, e.JobsCancelled},
		{"reaped", func() error { return e.OnJobReaped(ctx, j) }, e.JobsReaped},
	}

	for _, h := range hooks {
		t.Run(h.name, func(t *testing.T) {
			if err := h.fire(); err != nil {
				t.Fatalf("hook: %v", err)
			}
			if got := testutil.ToFloat64(h.counter.WithLabelValues(j.Type)); got != 1 {
				t.Errorf("want 1, got %v", got)
			}
		})
	}
}

func TestMetricsExtension_DurationObserved(t *testing.T) {
	e := newTestExtension(t)
	j := newTestJob()

	if err := e.OnJobCompleted(context.Background(), j, 2*time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if n := testutil.CollectAndCount(e.JobDuration); n != 1 {
		t.Errorf("want 1 histogram series, got %d", n)
	}
}

func TestMetricsExtension_DeadLetters(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()
	entry := &dlq.Entry{ID: id.NewEntryID(), TenantID: "acme"}

	_ = e.OnDeadLetterSubmitted(ctx, entry, false)
	_ = e.OnDeadLetterSubmitted(ctx, entry, true)
	_ = e.OnDeadLetterSubmitted(ctx, entry, true)
	_ = e.OnDeadLetterResolved(ctx, entry)

	if got := testutil.ToFloat64(e.DeadLettersSubmitted.WithLabelValues("false")); got != 1 {
		t.Errorf("submitted fresh: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(e.DeadLettersSubmitted.WithLabelValues("true")); got != 2 {
		t.Errorf("submitted deduped: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(e.DeadLettersResolved); got != 1 {
		t.Errorf("resolved: want 1, got %v", got)
	}
}

func TestMetricsExtension_CronFired(t *testing.T) {
	e := newTestExtension(t)
	if err := e.OnCronFired(context.Background(), "daily-digest", id.NewJobID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(e.CronFired.WithLabelValues("daily-digest")); got != 1 {
		t.Errorf("CronFired: want 1, got %v", got)
	}
}

func TestNewMetricsExtension_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := observability.NewMetricsExtension(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := observability.NewMetricsExtension(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	j := newTestJob()
	_ = a.OnJobEnqueued(context.Background(), j)
	_ = b.OnJobEnqueued(context.Background(), j)

	if got := testutil.ToFloat64(a.JobsEnqueued.WithLabelValues(j.Type)); got != 2 {
		t.Errorf("shared counter: want 2, got %v", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension(t)

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDead(ctx, j)
	reg.EmitCronFired(ctx, "hourly", id.NewJobID())

	checks := []struct {
		name  string
		value float64
	}{
		{"JobsEnqueued", testutil.ToFloat64(e.JobsEnqueued.WithLabelValues(j.Type))},
		{"JobsStarted", testutil.ToFloat64(e.JobsStarted.WithLabelValues(j.Type))},
		{"JobsRetried", testutil.ToFloat64(e.JobsRetried.WithLabelValues(j.Type))},
		{"JobsDead", testutil.ToFloat64(e.JobsDead.WithLabelValues(j.Type))},
		{"CronFired", testutil.ToFloat64(e.CronFired.WithLabelValues("hourly"))},
	}

	for _, c := range checks {
		if c.value != 1 {
			t.Errorf("%s: want 1, got %v", c.name, c.value)
		}
	}
}
