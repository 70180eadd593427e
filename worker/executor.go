package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/backoff"
	"github.com/xraph/strand/job"
	redisstore "github.com/xraph/strand/store/redis"
)

// process runs one claimed job and settles it. It returns the job
// claimed by the finishing call, if any.
func (w *Worker) process(j *job.Job) *job.Job {
	// Settling runs on its own context so a cancelled job can still
	// report its outcome.
	ctx := context.Background()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.trackJob(j.ID, cancel)
	defer w.untrackJob(j.ID)
	if !w.config.SkipLockRenewal {
		w.locks.Track(j.ID, j.Token, cancel)
		defer w.locks.Untrack(j.ID)
	}

	if j.IsSchedulerRun() {
		w.advanceScheduler(ctx, j)
	}

	w.extensions.EmitJobStarted(ctx, j)

	start := time.Now()
	value, err := w.execute(jobCtx, j)
	elapsed := time.Since(start)

	if err != nil {
		return w.handleFailure(ctx, j, err)
	}
	return w.handleSuccess(ctx, j, value, elapsed)
}

// execute runs the handler through the middleware chain.
func (w *Worker) execute(ctx context.Context, j *job.Job) (any, error) {
	if w.handler == nil {
		return nil, strand.Unrecoverable(strand.ErrNoHandler)
	}
	var value any
	terminal := func(ctx context.Context) error {
		v, err := w.handler(ctx, j)
		value = v
		return err
	}
	err := w.mw(ctx, j, terminal)
	return value, err
}

// advanceScheduler materialises the run after j.
func (w *Worker) advanceScheduler(ctx context.Context, j *job.Job) {
	next, err := w.queue.Schedulers().Next(ctx, j)
	if err != nil {
		w.logger.Error("advance job scheduler failed",
			slog.String("job_id", j.ID),
			slog.String("scheduler_id", j.RepeatJobKey),
			slog.String("error", err.Error()),
		)
		return
	}
	if next != "" {
		w.extensions.EmitSchedulerFired(ctx, j.RepeatJobKey, next)
	}
}

// finish moves j to completed or failed and claims the next job unless
// the worker is stopping.
func (w *Worker) finish(ctx context.Context, j *job.Job, args redisstore.FinishArgs) (*job.Job, error) {
	args.JobID = j.ID
	args.Token = j.Token
	args.Attempts = j.AttemptsAllowed()
	args.FetchNext = !w.stopping()
	args.Claim = w.claimOptions()

	c, err := w.store.MoveToFinished(ctx, w.ns, args)
	if err != nil {
		return nil, err
	}
	return c.Job, nil
}

// handleSuccess stores the return value and moves the job to completed.
func (w *Worker) handleSuccess(ctx context.Context, j *job.Job, value any, elapsed time.Duration) *job.Job {
	raw, err := encodeValue(value)
	if err != nil {
		return w.handleFailure(ctx, j, strand.Unrecoverable(fmt.Errorf("encode return value: %w", err)))
	}

	keep := j.Opts.RemoveOnComplete
	if keep == nil {
		keep = w.config.RemoveOnComplete
	}
	next, err := w.finish(ctx, j, redisstore.FinishArgs{Value: string(raw), Keep: keep})
	switch {
	case errors.Is(err, strand.ErrPendingChildren):
		// Children were added while the handler ran.
		w.parkParent(ctx, j)
		return nil
	case errors.Is(err, strand.ErrFailedChildren):
		return w.handleFailure(ctx, j, strand.Unrecoverable(err))
	case err != nil:
		w.logSettleError(j, "complete", err)
		return nil
	}

	j.ReturnValue = raw
	j.FinishedOn = time.Now()
	w.extensions.EmitJobCompleted(ctx, j, elapsed)
	return next
}

// handleFailure decides what a failed attempt turns into: a retry, a
// terminal failure, or nothing when the handler already moved the job.
func (w *Worker) handleFailure(ctx context.Context, j *job.Job, handlerErr error) *job.Job {
	var delayed *strand.DelayedError
	if errors.As(handlerErr, &delayed) {
		return nil
	}

	if errors.Is(handlerErr, strand.ErrWaitingChildren) {
		w.parkParent(ctx, j)
		return nil
	}

	var limited *strand.RateLimitError
	if errors.As(handlerErr, &limited) {
		w.requeueRateLimited(ctx, j, limited.Delay)
		return nil
	}

	reason := handlerErr.Error()
	fields := redisstore.FailureFields(reason, stacktrace(j, reason))

	if delay, ok := w.retryDelay(j, handlerErr); ok {
		w.scheduleRetry(ctx, j, delay, fields)
		return nil
	}

	keep := j.Opts.RemoveOnFail
	if keep == nil {
		keep = w.config.RemoveOnFail
	}
	next, err := w.finish(ctx, j, redisstore.FinishArgs{
		Failed: true,
		Value:  reason,
		Fields: fields,
		Keep:   keep,
	})
	if err != nil {
		w.logSettleError(j, "fail", err)
		return nil
	}

	j.AttemptsMade++
	j.FailedReason = reason
	w.extensions.EmitJobFailed(ctx, j, handlerErr)
	w.logger.Warn("job failed",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempts_made", j.AttemptsMade),
		slog.String("error", reason),
	)
	return next
}

// retryDelay reports whether a failed attempt is retried and after how
// long.
func (w *Worker) retryDelay(j *job.Job, err error) (time.Duration, bool) {
	if strand.IsUnrecoverable(err) {
		return 0, false
	}
	made := j.AttemptsMade + 1
	if made >= j.AttemptsAllowed() {
		return 0, false
	}
	delay, rerr := backoff.Resolve(j.Opts.Backoff, made, err, w.backoffs)
	if rerr != nil {
		w.logger.Warn("backoff strategy failed",
			slog.String("job_id", j.ID),
			slog.String("error", rerr.Error()),
		)
	}
	if delay < 0 {
		return 0, false
	}
	return delay, true
}

// scheduleRetry moves j to delayed for delay, or straight back to wait.
func (w *Worker) scheduleRetry(ctx context.Context, j *job.Job, delay time.Duration, fields map[string]any) {
	var err error
	if delay > 0 {
		err = w.store.MoveToDelayed(ctx, w.ns, j.ID, j.Token, delay, false, fields)
	} else {
		err = w.store.RetryJob(ctx, w.ns, j.ID, j.Token, j.Opts.LIFO, fields)
	}
	if err != nil {
		w.logSettleError(j, "retry", err)
		return
	}

	j.AttemptsMade++
	w.extensions.EmitJobRetrying(ctx, j, j.AttemptsMade, time.Now().Add(delay))
	w.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("attempts", j.AttemptsAllowed()),
		slog.Duration("delay", delay),
	)
}

// parkParent moves j to waiting-children. With no pending child left it
// goes back to wait so the handler runs again and sees the results.
func (w *Worker) parkParent(ctx context.Context, j *job.Job) {
	moved, err := w.store.MoveToWaitingChildren(ctx, w.ns, j.ID, j.Token, "")
	if err != nil {
		w.logSettleError(j, "wait for children", err)
		return
	}
	if moved {
		return
	}
	if _, err := w.store.MoveJobFromActiveToWait(ctx, w.ns, j.ID, j.Token); err != nil {
		w.logSettleError(j, "requeue", err)
	}
}

// requeueRateLimited puts j back in wait without spending an attempt and
// holds the queue for delay.
func (w *Worker) requeueRateLimited(ctx context.Context, j *job.Job, delay time.Duration) {
	if delay > 0 {
		if err := w.store.RateLimit(ctx, w.ns, delay); err != nil {
			w.logSettleError(j, "rate limit", err)
		}
	}
	if _, err := w.store.MoveJobFromActiveToWait(ctx, w.ns, j.ID, j.Token); err != nil {
		w.logSettleError(j, "requeue", err)
	}
}

// MoveToDelayed lets a handler postpone its own job until at. The handler
// must then return strand.DelayedError so the worker leaves the job alone.
func (w *Worker) MoveToDelayed(ctx context.Context, j *job.Job, at time.Time) error {
	return w.store.MoveToDelayed(ctx, w.ns, j.ID, j.Token, max(time.Until(at), 0), true, nil)
}

// ExtendLock pushes the lock of j forward by d, for handlers that run
// with lock renewal disabled.
func (w *Worker) ExtendLock(ctx context.Context, j *job.Job, d time.Duration) error {
	ok, err := w.store.ExtendLock(ctx, w.ns, j.ID, j.Token, d)
	if err != nil {
		return err
	}
	if !ok {
		return strand.ErrLockLost
	}
	return nil
}

func (w *Worker) logSettleError(j *job.Job, op string, err error) {
	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.String("op", op),
		slog.String("error", err.Error()),
	}
	// Another worker or the stalled sweep owns the job now.
	if errors.Is(err, strand.ErrLockNotFound) || errors.Is(err, strand.ErrLockMismatch) {
		w.logger.Warn("job lock lost before settling", attrs...)
		return
	}
	w.logger.Error("settle job failed", attrs...)
}

// encodeValue turns a handler return value into JSON. Raw JSON passes
// through.
func encodeValue(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(x) == 0 {
			return json.RawMessage("null"), nil
		}
		return x, nil
	}
	return json.Marshal(v)
}

// stacktrace returns the failure history of j with reason appended,
// capped at the job's stack trace limit.
func stacktrace(j *job.Job, reason string) []string {
	st := append(append([]string(nil), j.Stacktrace...), reason)
	if limit := j.Opts.StackTraceLimit; limit > 0 && len(st) > limit {
		st = st[len(st)-limit:]
	}
	return st
}
