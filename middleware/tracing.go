package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/job"
)

const instrumentationName = "github.com/xraph/conveyor"

// Tracing wraps each invocation in a "conveyor.job.execute" span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer is Tracing with an explicit tracer.
//
// The span carries conveyor.job.id, conveyor.job.type, conveyor.tenant_id,
// conveyor.retry_count and conveyor.attempt, and gets conveyor.outcome once
// the handler returns. Panics are recorded with their stack.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "conveyor.job.execute",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(jobAttributes(j)...),
		)
		defer span.End()

		err := next(ctx)
		outcome := Classify(err)
		span.SetAttributes(attribute.String("conveyor.outcome", string(outcome)))

		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		var opts []trace.EventOption
		if stack := StackOf(err); stack != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("exception.stacktrace", stack)))
		}
		span.RecordError(err, opts...)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

func jobAttributes(j *job.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conveyor.job.id", j.ID.String()),
		attribute.String("conveyor.job.type", j.Type),
		attribute.String("conveyor.tenant_id", j.TenantID),
		attribute.Int("conveyor.retry_count", j.RetryCount),
		attribute.Int("conveyor.attempt", j.Attempt),
	}
}
