package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/strand/job"
)

type hooked[H any] struct {
	ext  string
	hook H
}

// hooks is the list of registered extensions implementing H.
type hooks[H any] []hooked[H]

func (hs *hooks[H]) offer(e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, hooked[H]{e.Name(), h})
	}
}

// Registry fans lifecycle events out to registered extensions in
// registration order. Hook errors are logged and never reach the job.
// A nil *Registry is valid and emits nothing.
type Registry struct {
	logger     *slog.Logger
	extensions []Extension

	added     hooks[JobAdded]
	started   hooks[JobStarted]
	completed hooks[JobCompleted]
	failed    hooks[JobFailed]
	retrying  hooks[JobRetrying]
	stalled   hooks[JobStalled]
	lockLost  hooks[LockRenewalFailed]
	fired     hooks[SchedulerFired]
	drained   hooks[QueueDrained]
	shutdown  hooks[Shutdown]
}

// NewRegistry returns an empty registry logging hook errors to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e under every hook interface it implements.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.added.offer(e)
	r.started.offer(e)
	r.completed.offer(e)
	r.failed.offer(e)
	r.retrying.offer(e)
	r.stalled.offer(e)
	r.lockLost.offer(e)
	r.fired.offer(e)
	r.drained.offer(e)
	r.shutdown.offer(e)
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// emit calls fn for every hook in hs, logging failures under name.
func emit[H any](logger *slog.Logger, hs hooks[H], name string, fn func(H) error) {
	for _, h := range hs {
		if err := fn(h.hook); err != nil {
			logger.Warn("extension hook failed",
				slog.String("hook", name),
				slog.String("extension", h.ext),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ── Producer and processing ──

func (r *Registry) EmitJobAdded(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	emit(r.logger, r.added, "OnJobAdded",
		func(h JobAdded) error { return h.OnJobAdded(ctx, j) })
}

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	emit(r.logger, r.started, "OnJobStarted",
		func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	if r == nil {
		return
	}
	emit(r.logger, r.completed, "OnJobCompleted",
		func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	if r == nil {
		return
	}
	emit(r.logger, r.failed, "OnJobFailed",
		func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	if r == nil {
		return
	}
	emit(r.logger, r.retrying, "OnJobRetrying",
		func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

// ── Worker ──

func (r *Registry) EmitJobStalled(ctx context.Context, queue, jobID string, failed bool) {
	if r == nil {
		return
	}
	emit(r.logger, r.stalled, "OnJobStalled",
		func(h JobStalled) error { return h.OnJobStalled(ctx, queue, jobID, failed) })
}

func (r *Registry) EmitLockRenewalFailed(ctx context.Context, queue string, jobIDs []string) {
	if r == nil {
		return
	}
	emit(r.logger, r.lockLost, "OnLockRenewalFailed",
		func(h LockRenewalFailed) error { return h.OnLockRenewalFailed(ctx, queue, jobIDs) })
}

func (r *Registry) EmitSchedulerFired(ctx context.Context, schedulerID, jobID string) {
	if r == nil {
		return
	}
	emit(r.logger, r.fired, "OnSchedulerFired",
		func(h SchedulerFired) error { return h.OnSchedulerFired(ctx, schedulerID, jobID) })
}

func (r *Registry) EmitQueueDrained(ctx context.Context, queue string) {
	if r == nil {
		return
	}
	emit(r.logger, r.drained, "OnQueueDrained",
		func(h QueueDrained) error { return h.OnQueueDrained(ctx, queue) })
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	if r == nil {
		return
	}
	emit(r.logger, r.shutdown, "OnShutdown",
		func(h Shutdown) error { return h.OnShutdown(ctx) })
}
