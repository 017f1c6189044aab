package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/job"
)

// Metrics records handler instruments on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records three instruments on meter:
//
//	conveyor.job.duration   histogram, seconds, {job_type, status}
//	conveyor.job.executions counter, {job_type, status}
//	conveyor.job.active     up-down counter, {job_type}
//
// status is the invocation's Outcome. Tenant IDs are left out to keep
// cardinality bounded.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument constructors return usable noop instruments alongside errors.
	duration, _ := meter.Float64Histogram("conveyor.job.duration",
		metric.WithDescription("Handler execution time"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("conveyor.job.executions",
		metric.WithDescription("Handler invocations by outcome"),
		metric.WithUnit("{execution}"),
	)
	active, _ := meter.Int64UpDownCounter("conveyor.job.active",
		metric.WithDescription("Handlers currently running"),
		metric.WithUnit("{job}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		typeAttr := attribute.String("job_type", j.Type)
		active.Add(ctx, 1, metric.WithAttributes(typeAttr))
		defer active.Add(ctx, -1, metric.WithAttributes(typeAttr))

		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(typeAttr, attribute.String("status", string(Classify(err))))
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
