package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/strand/job"
)

// Logging logs each attempt at debug level when it starts and once more
// when it ends. Attempts that will be retried log at warn, terminal
// failures at error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("queue", j.Queue),
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("attempt", attemptLabel(j)),
		}
		logger.DebugContext(ctx, "job attempt started", attrs...)

		start := time.Now()
		err := next(ctx)
		outcome := Classify(j, err)

		attrs = append(attrs,
			slog.String("outcome", string(outcome)),
			slog.Duration("elapsed", time.Since(start)),
		)
		switch {
		case outcome.Terminal():
			logger.ErrorContext(ctx, "job failed", append(attrs, slog.String("error", err.Error()))...)
		case outcome == OutcomeRetry || outcome == OutcomeLockLost:
			logger.WarnContext(ctx, "job attempt failed", append(attrs, slog.String("error", err.Error()))...)
		case outcome == OutcomeCompleted:
			logger.InfoContext(ctx, "job completed", attrs...)
		default:
			logger.InfoContext(ctx, "job attempt yielded", attrs...)
		}
		return err
	}
}

func attemptLabel(j *job.Job) string {
	return strconv.Itoa(j.AttemptsMade+1) + "/" + strconv.Itoa(j.AttemptsAllowed())
}
