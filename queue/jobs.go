package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	redisstore "github.com/xraph/strand/store/redis"
)

// AllStates lists every state a job can be listed or counted in.
var AllStates = []job.State{
	job.StateWaiting, job.StateActive, job.StateDelayed, job.StatePrioritized,
	job.StateWaitingChildren, job.StateCompleted, job.StateFailed,
}

// rolesOf maps public states to containers. waiting spans wait and paused.
func rolesOf(states []job.State) ([]keys.Role, error) {
	if len(states) == 0 {
		states = AllStates
	}
	roles := make([]keys.Role, 0, len(states)+1)
	for _, s := range states {
		switch s {
		case job.StateWaiting:
			roles = append(roles, keys.Wait, keys.Paused)
		case job.StateActive:
			roles = append(roles, keys.Active)
		case job.StateDelayed:
			roles = append(roles, keys.Delayed)
		case job.StatePrioritized:
			roles = append(roles, keys.Prioritized)
		case job.StateWaitingChildren:
			roles = append(roles, keys.WaitingChildren)
		case job.StateCompleted:
			roles = append(roles, keys.Completed)
		case job.StateFailed:
			roles = append(roles, keys.Failed)
		default:
			return nil, fmt.Errorf("%w: unknown state %q", strand.ErrInvalidOptions, s)
		}
	}
	return roles, nil
}

func stateOf(r keys.Role) job.State {
	switch r {
	case keys.Wait, keys.Paused:
		return job.StateWaiting
	case keys.WaitingChildren:
		return job.StateWaitingChildren
	default:
		return job.State(r)
	}
}

// GetJob loads a job by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return q.store.GetJob(ctx, q.ns, jobID)
}

// GetJobState returns the state of a job, StateUnknown when it is gone.
func (q *Queue) GetJobState(ctx context.Context, jobID string) (job.State, error) {
	if err := q.Ready(ctx); err != nil {
		return job.StateUnknown, err
	}
	return q.store.GetState(ctx, q.ns, jobID)
}

// GetJobCounts returns the number of jobs per state. No states means all.
func (q *Queue) GetJobCounts(ctx context.Context, states ...job.State) (map[job.State]int64, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	roles, err := rolesOf(states)
	if err != nil {
		return nil, err
	}
	counts, err := q.store.GetCounts(ctx, q.ns, roles...)
	if err != nil {
		return nil, err
	}
	out := make(map[job.State]int64, len(roles))
	for r, n := range counts {
		out[stateOf(r)] += n
	}
	return out, nil
}

// Count returns the number of jobs waiting to be processed: waiting,
// delayed and prioritized.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	counts, err := q.GetJobCounts(ctx, job.StateWaiting, job.StateDelayed, job.StatePrioritized)
	if err != nil {
		return 0, err
	}
	return counts[job.StateWaiting] + counts[job.StateDelayed] + counts[job.StatePrioritized], nil
}

// GetJobs lists jobs in the given states, positions start..end of each
// container (-1 for the end). Jobs removed between the id read and the
// hash read are skipped.
func (q *Queue) GetJobs(ctx context.Context, states []job.State, start, end int64, asc bool) ([]*job.Job, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	roles, err := rolesOf(states)
	if err != nil {
		return nil, err
	}
	ranges, err := q.store.GetRanges(ctx, q.ns, start, end, asc, roles...)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, r := range ranges {
		for _, id := range r {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return q.loadJobs(ctx, ids)
}

func (q *Queue) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.ns.Job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("queue: load jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		j, err := job.FromHash(ids[i], m)
		if err != nil {
			q.logger.Warn("skipping unreadable job",
				slog.String("job_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		j.Queue = q.name
		out = append(out, j)
	}
	return out, nil
}

// Dependencies pages through the pending children of a parent job.
func (q *Queue) Dependencies(ctx context.Context, jobID string, start, end int64) (*redisstore.Page, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	return q.store.Paginate(ctx, q.ns.Dependencies(jobID), start, end)
}

// ChildrenValues pages through the results of a parent's processed
// children, keyed by child job key.
func (q *Queue) ChildrenValues(ctx context.Context, jobID string, start, end int64) (*redisstore.Page, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	return q.store.Paginate(ctx, q.ns.Processed(jobID), start, end)
}

// FailedChildren pages through the failure reasons of a parent's failed
// children that did not fail the parent.
func (q *Queue) FailedChildren(ctx context.Context, jobID string, start, end int64) (*redisstore.Page, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	return q.store.Paginate(ctx, q.ns.Failed(jobID), start, end)
}

// ── Job mutation ──

// Remove deletes a job, and its children when removeChildren is set. It
// reports false when the job or a child is locked by a worker.
func (q *Queue) Remove(ctx context.Context, jobID string, removeChildren bool) (bool, error) {
	if err := q.Ready(ctx); err != nil {
		return false, err
	}
	return q.store.RemoveJob(ctx, q.ns, jobID, removeChildren)
}

// UpdateProgress stores arbitrary JSON progress on a job.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress any) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	raw, err := EncodeData(progress)
	if err != nil {
		return err
	}
	return q.store.UpdateProgress(ctx, q.ns, jobID, raw)
}

// AddLog appends a log line to a job and returns the stored line count.
// keep caps the lines kept, 0 falls back to the job's keepLogs option.
func (q *Queue) AddLog(ctx context.Context, jobID, line string, keep int) (int64, error) {
	if err := q.Ready(ctx); err != nil {
		return 0, err
	}
	return q.store.AddLog(ctx, q.ns, jobID, line, keep)
}

// GetJobLogs returns log lines start..end and the total count.
func (q *Queue) GetJobLogs(ctx context.Context, jobID string, start, end int64, asc bool) ([]string, int64, error) {
	return q.store.GetLogs(ctx, q.ns, jobID, start, end, asc)
}

// UpdateData replaces a job's payload.
func (q *Queue) UpdateData(ctx context.Context, jobID string, data any) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	raw, err := EncodeData(data)
	if err != nil {
		return err
	}
	return q.store.UpdateData(ctx, q.ns, jobID, raw)
}

// ChangePriority re-scores a waiting or prioritized job.
func (q *Queue) ChangePriority(ctx context.Context, jobID string, priority int, lifo bool) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	return q.store.ChangePriority(ctx, q.ns, jobID, priority, lifo)
}

// ChangeDelay reschedules a delayed job to run delay from now.
func (q *Queue) ChangeDelay(ctx context.Context, jobID string, delay time.Duration) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	if delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0", strand.ErrInvalidOptions)
	}
	return q.store.ChangeDelay(ctx, q.ns, jobID, delay)
}

// Promote moves a delayed job to wait immediately.
func (q *Queue) Promote(ctx context.Context, jobID string) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	return q.store.Promote(ctx, q.ns, jobID)
}

// PromoteJobs promotes every delayed job, count per round trip.
func (q *Queue) PromoteJobs(ctx context.Context, count int) (int64, error) {
	if err := q.Ready(ctx); err != nil {
		return 0, err
	}
	if count <= 0 {
		count = 1000
	}
	var total int64
	for {
		n, err := q.store.PromoteJobs(ctx, q.ns, count)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(count) {
			return total, nil
		}
	}
}

// Reprocess moves a completed or failed job back to wait.
func (q *Queue) Reprocess(ctx context.Context, jobID string, from job.State, resetAttempts bool) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	j, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return q.store.Reprocess(ctx, q.ns, jobID, from, j.Opts.LIFO, resetAttempts)
}

// Retry moves every failed (or completed) job finished before now back
// to wait, count per round trip.
func (q *Queue) Retry(ctx context.Context, from job.State, count int) error {
	if err := q.Ready(ctx); err != nil {
		return err
	}
	if count <= 0 {
		count = 1000
	}
	before := time.Now()
	for {
		more, err := q.store.RetryJobs(ctx, q.ns, from, count, before)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
