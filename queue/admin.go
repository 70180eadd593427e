package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/scheduler"
)

// Meta hash fields holding queue-wide limits.
const (
	metaConcurrency = "concurrency"
	metaMax         = "max"
	metaDuration    = "duration"
)

// ── Pause ──

// Pause stops workers from claiming new jobs. Active jobs finish.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	if err := q.store.Pause(ctx, q.ns, true); err != nil {
		return err
	}
	q.logger.Info("queue paused", slog.String("queue", q.name))
	return nil
}

// Resume lets workers claim jobs again.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	if err := q.store.Pause(ctx, q.ns, false); err != nil {
		return err
	}
	q.logger.Info("queue resumed", slog.String("queue", q.name))
	return nil
}

// IsPaused reports whether the queue is paused.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.store.IsPaused(ctx, q.ns)
}

// ── Cleanup ──

// Drain removes all waiting jobs, and delayed ones when delayed is set.
// Active jobs and scheduler runs are kept.
func (q *Queue) Drain(ctx context.Context, delayed bool) (int64, error) {
	if err := q.Ready(ctx); err != nil {
		return 0, err
	}
	return q.store.Drain(ctx, q.ns, delayed)
}

// Clean removes up to limit jobs in state that finished (or were added,
// for unfinished states) more than grace ago. limit 0 removes all. It
// returns the removed ids.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, limit int, state job.State) ([]string, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	roles, err := rolesOf([]job.State{state})
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, r := range roles {
		left := 0
		if limit > 0 {
			left = limit - len(removed)
			if left <= 0 {
				break
			}
		}
		ids, err := q.store.Clean(ctx, q.ns, r, grace, left)
		if err != nil {
			return removed, err
		}
		removed = append(removed, ids...)
	}
	return removed, nil
}

// Obliterate deletes the whole queue. The queue must be paused. Without
// force it refuses while jobs are active. count bounds the jobs deleted
// per round trip.
func (q *Queue) Obliterate(ctx context.Context, force bool, count int) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	if count <= 0 {
		count = 1000
	}
	for {
		done, err := q.store.Obliterate(ctx, q.ns, count, force)
		if err != nil {
			return err
		}
		if done {
			q.logger.Info("queue obliterated", slog.String("queue", q.name))
			return nil
		}
	}
}

// TrimEvents trims the event stream to about maxLen entries.
func (q *Queue) TrimEvents(ctx context.Context, maxLen int64) (int64, error) {
	return q.store.TrimEvents(ctx, q.ns, maxLen)
}

// ── Global limits ──

// SetGlobalConcurrency caps active jobs across all workers.
func (q *Queue) SetGlobalConcurrency(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: concurrency must be > 0", strand.ErrInvalidOptions)
	}
	return q.store.SetMeta(ctx, q.ns, map[string]any{metaConcurrency: n})
}

// RemoveGlobalConcurrency lifts the global concurrency cap.
func (q *Queue) RemoveGlobalConcurrency(ctx context.Context) error {
	return q.store.DelMeta(ctx, q.ns, metaConcurrency)
}

// GlobalConcurrency returns the cap, 0 when unset.
func (q *Queue) GlobalConcurrency(ctx context.Context) (int, error) {
	v, err := q.store.GetMeta(ctx, q.ns, metaConcurrency)
	if err != nil || v == "" {
		return 0, err
	}
	n, _ := strconv.Atoi(v) //nolint:errcheck // best-effort parse from trusted Redis data
	return n, nil
}

// SetGlobalRateLimit allows at most max claims per window across all
// workers. It overrides the workers' own limiter settings.
func (q *Queue) SetGlobalRateLimit(ctx context.Context, maxJobs int, window time.Duration) error {
	if maxJobs <= 0 || window <= 0 {
		return fmt.Errorf("%w: rate limit needs max > 0 and duration > 0", strand.ErrInvalidOptions)
	}
	return q.store.SetMeta(ctx, q.ns, map[string]any{
		metaMax:      maxJobs,
		metaDuration: window.Milliseconds(),
	})
}

// RemoveGlobalRateLimit drops the queue-wide rate limit.
func (q *Queue) RemoveGlobalRateLimit(ctx context.Context) error {
	return q.store.DelMeta(ctx, q.ns, metaMax, metaDuration)
}

// GetRateLimitTTL returns how long claims stay blocked by the rate
// limiter. maxJobs overrides the stored limit when positive.
func (q *Queue) GetRateLimitTTL(ctx context.Context, maxJobs int) (time.Duration, error) {
	if err := q.Ready(ctx); err != nil {
		return 0, err
	}
	return q.store.GetRateLimitTTL(ctx, q.ns, maxJobs)
}

// RateLimit blocks all claims on the queue for d.
func (q *Queue) RateLimit(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return q.store.RateLimit(ctx, q.ns, d)
}

// RemoveRateLimitKey clears the limiter so claims resume at once.
func (q *Queue) RemoveRateLimitKey(ctx context.Context) error {
	return q.client.Del(ctx, q.ns.Key(keys.Limiter)).Err()
}

// IsMaxed reports whether the global concurrency cap is reached.
func (q *Queue) IsMaxed(ctx context.Context) (bool, error) {
	if err := q.Ready(ctx); err != nil {
		return false, err
	}
	return q.store.IsMaxed(ctx, q.ns)
}

// ── Job schedulers ──

// Schedulers returns the queue's job scheduler manager.
func (q *Queue) Schedulers() *scheduler.Manager { return q.scheduler }

// UpsertJobScheduler creates or replaces a scheduler and returns its next
// run.
func (q *Queue) UpsertJobScheduler(ctx context.Context, id string, spec scheduler.Spec, tpl scheduler.Template) (*job.Job, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	runID, err := q.scheduler.Upsert(ctx, id, spec, tpl)
	if err != nil {
		return nil, err
	}
	return q.GetJob(ctx, runID)
}

// RemoveJobScheduler deletes a scheduler and its pending run.
func (q *Queue) RemoveJobScheduler(ctx context.Context, id string) (bool, error) {
	if err := q.Ready(ctx); err != nil {
		return false, err
	}
	return q.scheduler.Remove(ctx, id)
}

// GetJobScheduler loads one scheduler.
func (q *Queue) GetJobScheduler(ctx context.Context, id string) (*scheduler.Scheduler, error) {
	return q.scheduler.Get(ctx, id)
}

// GetJobSchedulers lists schedulers ordered by next run.
func (q *Queue) GetJobSchedulers(ctx context.Context, start, end int64, asc bool) ([]*scheduler.Scheduler, error) {
	return q.scheduler.List(ctx, start, end, asc)
}
