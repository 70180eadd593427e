package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/strand/job"
)

const tracerName = "github.com/xraph/strand"

// Tracing runs each attempt in a consumer span named "<queue> process"
// using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
//
// The span carries messaging attributes plus strand.job.* for the attempt,
// parent and scheduler. Only terminal outcomes mark the span as an error;
// a retried attempt records the error as an event and keeps status unset.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("messaging.system", "strand"),
			attribute.String("messaging.operation.type", "process"),
			attribute.String("messaging.destination.name", j.Queue),
			attribute.String("messaging.message.id", j.ID),
			attribute.String("strand.job.name", j.Name),
			attribute.Int("strand.job.attempt", j.AttemptsMade+1),
			attribute.Int("strand.job.attempts_allowed", j.AttemptsAllowed()),
		}
		if j.ParentKey != "" {
			attrs = append(attrs, attribute.String("strand.job.parent", j.ParentKey))
		}
		if j.IsSchedulerRun() {
			attrs = append(attrs, attribute.String("strand.scheduler.id", j.RepeatJobKey))
		}
		ctx, span := tracer.Start(ctx, j.Queue+" process",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		outcome := Classify(j, err)
		span.SetAttributes(attribute.String("strand.job.outcome", string(outcome)))
		switch {
		case outcome.Terminal():
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case err != nil:
			span.RecordError(err)
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
