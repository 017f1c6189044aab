package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.JobEnqueued         = (*MetricsExtension)(nil)
	_ ext.JobStarted          = (*MetricsExtension)(nil)
	_ ext.JobCompleted        = (*MetricsExtension)(nil)
	_ ext.JobRetrying         = (*MetricsExtension)(nil)
	_ ext.JobDead             = (*MetricsExtension)(nil)
	_ ext.JobCancelled        = (*MetricsExtension)(nil)
	_ ext.JobReaped           = (*MetricsExtension)(nil)
	_ ext.DeadLetterSubmitted = (*MetricsExtension)(nil)
	_ ext.DeadLetterResolved  = (*MetricsExtension)(nil)
	_ ext.CronFired           = (*MetricsExtension)(nil)
)

const namespace = "conveyor"

// MetricsExtension records system-wide lifecycle counters as Prometheus
// collectors. Job counters are labelled by job_type; tenant IDs are not
// used as labels.
type MetricsExtension struct {
	JobsEnqueued         *prometheus.CounterVec
	JobsStarted          *prometheus.CounterVec
	JobsCompleted        *prometheus.CounterVec
	JobsRetried          *prometheus.CounterVec
	JobsDead             *prometheus.CounterVec
	JobsCancelled        *prometheus.CounterVec
	JobsReaped           *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec
	DeadLettersSubmitted *prometheus.CounterVec
	DeadLettersResolved  prometheus.Counter
	CronFired            *prometheus.CounterVec
}

func jobCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      name,
		Help:      help,
	}, []string{"job_type"})
}

// NewMetricsExtension creates the collectors and registers them with reg.
// Collectors already registered by another extension on the same
// registry are reused.
func NewMetricsExtension(reg prometheus.Registerer) (*MetricsExtension, error) {
	m := &MetricsExtension{
		JobsEnqueued:  jobCounter("enqueued_total", "Jobs accepted by enqueue."),
		JobsStarted:   jobCounter("started_total", "Jobs claimed for processing."),
		JobsCompleted: jobCounter("completed_total", "Jobs completed successfully."),
		JobsRetried:   jobCounter("retried_total", "Failed jobs rescheduled with backoff."),
		JobsDead:      jobCounter("dead_total", "Jobs that exhausted their retries."),
		JobsCancelled: jobCounter("cancelled_total", "Jobs cancelled before completion."),
		JobsReaped:    jobCounter("reaped_total", "Jobs reclaimed after their lease expired."),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Time from claim to completion of successful jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"job_type"}),
		DeadLettersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deadletter",
			Name:      "submitted_total",
			Help:      "Dead letter submissions, by whether they were deduplicated.",
		}, []string{"deduped"}),
		DeadLettersResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deadletter",
			Name:      "resolved_total",
			Help:      "Dead letter entries resolved.",
		}),
		CronFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "fired_total",
			Help:      "Cron entries that enqueued a job.",
		}, []string{"entry"}),
	}

	var err error
	m.JobsEnqueued, err = register(reg, m.JobsEnqueued)
	if err == nil {
		m.JobsStarted, err = register(reg, m.JobsStarted)
	}
	if err == nil {
		m.JobsCompleted, err = register(reg, m.JobsCompleted)
	}
	if err == nil {
		m.JobsRetried, err = register(reg, m.JobsRetried)
	}
	if err == nil {
		m.JobsDead, err = register(reg, m.JobsDead)
	}
	if err == nil {
		m.JobsCancelled, err = register(reg, m.JobsCancelled)
	}
	if err == nil {
		m.JobsReaped, err = register(reg, m.JobsReaped)
	}
	if err == nil {
		m.JobDuration, err = register(reg, m.JobDuration)
	}
	if err == nil {
		m.DeadLettersSubmitted, err = register(reg, m.DeadLettersSubmitted)
	}
	if err == nil {
		m.DeadLettersResolved, err = register(reg, m.DeadLettersResolved)
	}
	if err == nil {
		m.CronFired, err = register(reg, m.CronFired)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.JobsEnqueued.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, j *job.Job) error {
	m.JobsStarted.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobsCompleted.WithLabelValues(j.Type).Inc()
	m.JobDuration.WithLabelValues(j.Type).Observe(elapsed.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsRetried.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(_ context.Context, j *job.Job) error {
	m.JobsDead.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(_ context.Context, j *job.Job) error {
	m.JobsCancelled.WithLabelValues(j.Type).Inc()
	return nil
}

// OnJobReaped implements ext.JobReaped.
func (m *MetricsExtension) OnJobReaped(_ context.Context, j *job.Job) error {
	m.JobsReaped.WithLabelValues(j.Type).Inc()
	return nil
}

// ── Dead letter hooks ───────────────────────────────

// OnDeadLetterSubmitted implements ext.DeadLetterSubmitted.
func (m *MetricsExtension) OnDeadLetterSubmitted(_ context.Context, _ *dlq.Entry, deduped bool) error {
	m.DeadLettersSubmitted.WithLabelValues(strconv.FormatBool(deduped)).Inc()
	return nil
}

// OnDeadLetterResolved implements ext.DeadLetterResolved.
func (m *MetricsExtension) OnDeadLetterResolved(_ context.Context, _ *dlq.Entry) error {
	m.DeadLettersResolved.Inc()
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(_ context.Context, entryName string, _ id.JobID) error {
	m.CronFired.WithLabelValues(entryName).Inc()
	return nil
}
