package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/strand/job"
)

const meterName = "github.com/xraph/strand"

// Metrics records attempt metrics through the global MeterProvider.
//
// Instruments, all tagged with queue, job_name and outcome (see [Outcome]):
//   - strand.attempt.duration (s): processor run time
//   - strand.attempt.count: attempts processed
//   - strand.job.queue_wait (s): time between becoming ready and the first
//     attempt, recorded on first attempts only and tagged without outcome
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors leave a noop instrument in place.
	duration, _ := meter.Float64Histogram("strand.attempt.duration",
		metric.WithDescription("Processor run time per attempt"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter("strand.attempt.count",
		metric.WithDescription("Attempts processed"),
		metric.WithUnit("{attempt}"),
	)
	wait, _ := meter.Float64Histogram("strand.job.queue_wait",
		metric.WithDescription("Time a job waited before its first attempt"),
		metric.WithUnit("s"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		base := []attribute.KeyValue{
			attribute.String("queue", j.Queue),
			attribute.String("job_name", j.Name),
		}
		if j.AttemptsMade == 0 {
			if s, ok := queueWait(j); ok {
				wait.Record(ctx, s, metric.WithAttributes(base...))
			}
		}

		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(append(base,
			attribute.String("outcome", string(Classify(j, err))))...)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)
		return err
	}
}
