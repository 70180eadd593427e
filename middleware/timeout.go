package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/strand/job"
)

// Timeout returns middleware that cancels the processor's context after d.
// A processor that returns because of the deadline fails the attempt
// with context.DeadlineExceeded.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("job %s timed out after %s: %w", j.Name, d, errors.Join(err, context.DeadlineExceeded))
		}
		return err
	}
}
