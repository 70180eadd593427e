package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
)

// ── Reads ──

// GetJob loads a job hash. It returns strand.ErrJobNotFound when the hash
// does not exist.
func (s *Store) GetJob(ctx context.Context, ns keys.Namespace, jobID string) (*job.Job, error) {
	m, err := s.client.HGetAll(ctx, ns.Job(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("strand/redis: get job: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: %s", strand.ErrJobNotFound, jobID)
	}
	j, err := job.FromHash(jobID, m)
	if err != nil {
		return nil, err
	}
	j.Queue = ns.Queue()
	return j, nil
}

// GetState returns the container a job sits in.
func (s *Store) GetState(ctx context.Context, ns keys.Namespace, jobID string) (job.State, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptGetState,
		Keys: []string{
			ns.Key(keys.Completed), ns.Key(keys.Failed), ns.Key(keys.Delayed), ns.Key(keys.Active),
			ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Key(keys.WaitingChildren), ns.Key(keys.Prioritized),
		},
		Args:  []any{jobID},
		JobID: jobID,
	})
	if err != nil {
		return job.StateUnknown, err
	}
	return job.State(toString(v)), nil
}

// GetCounts returns the size of each container, keyed by role.
func (s *Store) GetCounts(ctx context.Context, ns keys.Namespace, roles ...keys.Role) (map[keys.Role]int64, error) {
	args := make([]any, len(roles))
	for i, r := range roles {
		args[i] = string(r)
	}
	v, err := s.Run(ctx, Call{Name: ScriptGetCounts, Keys: []string{ns.Base()}, Args: args})
	if err != nil {
		return nil, err
	}
	reply := toSlice(v)
	out := make(map[keys.Role]int64, len(roles))
	for i, r := range roles {
		if i < len(reply) {
			out[r] += toInt64(reply[i])
		}
	}
	return out, nil
}

// GetRanges returns job ids from each container between start and end
// (inclusive, -1 for the end). Lists and sets are both read oldest first
// when asc is set.
func (s *Store) GetRanges(ctx context.Context, ns keys.Namespace, start, end int64, asc bool, roles ...keys.Role) ([][]string, error) {
	args := []any{start, end, boolArg(asc)}
	for _, r := range roles {
		args = append(args, string(r))
	}
	v, err := s.Run(ctx, Call{Name: ScriptGetRanges, Keys: []string{ns.Base()}, Args: args})
	if err != nil {
		return nil, err
	}
	reply := toSlice(v)
	out := make([][]string, len(reply))
	for i, r := range reply {
		out[i] = toStrings(r)
	}
	return out, nil
}

// Page is one window of a set or hash.
type Page struct {
	Total int64
	// Items holds members for a set and field/value pairs for a hash.
	Items []string
}

// Paginate reads positions start..end of a set or hash.
func (s *Store) Paginate(ctx context.Context, key string, start, end int64) (*Page, error) {
	v, err := s.Run(ctx, Call{Name: ScriptPaginate, Keys: []string{key}, Args: []any{start, end, 100}})
	if err != nil {
		return nil, err
	}
	reply := toSlice(v)
	p := &Page{}
	if len(reply) == 2 {
		p.Total = toInt64(reply[0])
		p.Items = toStrings(reply[1])
	}
	return p, nil
}

// ── Queue state ──

// Pause moves wait to paused (or back) and emits paused/resumed.
func (s *Store) Pause(ctx context.Context, ns keys.Namespace, pause bool) error {
	src, dst, ev := keys.Wait, keys.Paused, "paused"
	if !pause {
		src, dst, ev = keys.Paused, keys.Wait, "resumed"
	}
	_, err := s.Run(ctx, Call{
		Name: ScriptPause,
		Keys: []string{
			ns.Key(src), ns.Key(dst), ns.Key(keys.Meta), ns.Key(keys.Prioritized),
			ns.Key(keys.Events), ns.Key(keys.Delayed), ns.Key(keys.Marker),
		},
		Args: []any{ev},
	})
	return err
}

// IsPaused reports whether the queue's meta carries the paused flag.
func (s *Store) IsPaused(ctx context.Context, ns keys.Namespace) (bool, error) {
	n, err := s.client.HExists(ctx, ns.Key(keys.Meta), "paused").Result()
	if err != nil {
		return false, fmt.Errorf("strand/redis: is paused: %w", err)
	}
	return n, nil
}

// Drain removes every waiting job, and delayed ones too when delayed is
// set. Scheduler runs are kept.
func (s *Store) Drain(ctx context.Context, ns keys.Namespace, delayed bool) (int64, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptDrain,
		Keys: []string{
			ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Key(keys.Delayed),
			ns.Key(keys.Prioritized), ns.Key(keys.Repeat), ns.Key(keys.PriorityCounter),
		},
		Args: []any{ns.Base(), time.Now().UnixMilli(), boolArg(delayed)},
	})
	if err != nil {
		return 0, err
	}
	return toInt64(v), nil
}

// Clean removes up to limit jobs of one container finished (or added)
// before now-grace and returns their ids.
func (s *Store) Clean(ctx context.Context, ns keys.Namespace, role keys.Role, grace time.Duration, limit int) ([]string, error) {
	now := time.Now().UnixMilli()
	v, err := s.Run(ctx, Call{
		Name: ScriptCleanJobsInSet,
		Keys: []string{ns.Key(role), ns.Key(keys.Events), ns.Key(keys.Repeat)},
		Args: []any{ns.Base(), now - grace.Milliseconds(), limit, string(role), now},
	})
	if err != nil {
		return nil, err
	}
	return toStrings(v), nil
}

// Obliterate deletes up to count jobs of a paused queue per call. It
// reports true once the queue is gone.
func (s *Store) Obliterate(ctx context.Context, ns keys.Namespace, count int, force bool) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptObliterate,
		Keys: []string{ns.Key(keys.Meta), ns.Base()},
		Args: []any{count, boolArg(force)},
		Raw:  true,
	})
	if err != nil {
		return false, err
	}
	switch toInt64(v) {
	case 0:
		return true, nil
	case -1:
		return false, strand.ErrQueueNotPaused
	case -2:
		return false, strand.ErrQueueHasActive
	default:
		return false, nil
	}
}

// RemoveJob deletes a job and, optionally, its children. It reports false
// when the job or one of its children is locked.
func (s *Store) RemoveJob(ctx context.Context, ns keys.Namespace, jobID string, removeChildren bool) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name:  ScriptRemoveJob,
		Keys:  []string{ns.Job(jobID), ns.Key(keys.Repeat)},
		Args:  []any{jobID, boolArg(removeChildren), ns.Base()},
		JobID: jobID,
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 1, nil
}

func finishedRole(state job.State) (keys.Role, string, error) {
	switch state {
	case job.StateCompleted:
		return keys.Completed, job.FieldReturnValue, nil
	case job.StateFailed:
		return keys.Failed, job.FieldFailedReason, nil
	default:
		return "", "", fmt.Errorf("%w: %q is not a finished state", strand.ErrInvalidOptions, state)
	}
}

// Reprocess moves a completed or failed job back to wait.
func (s *Store) Reprocess(ctx context.Context, ns keys.Namespace, jobID string, from job.State, lifo, resetAttempts bool) error {
	role, field, err := finishedRole(from)
	if err != nil {
		return err
	}
	_, err = s.Run(ctx, Call{
		Name: ScriptReprocessJob,
		Keys: []string{
			ns.Job(jobID), ns.Key(keys.Events), ns.Key(role), ns.Key(keys.Wait), ns.Key(keys.Meta),
			ns.Key(keys.Paused), ns.Key(keys.Active), ns.Key(keys.Marker), ns.Key(keys.Prioritized),
			ns.Key(keys.PriorityCounter),
		},
		Args:  []any{jobID, pushCmd(lifo), field, string(role), boolArg(resetAttempts)},
		JobID: jobID,
	})
	return err
}

// RetryJobs moves up to count finished jobs back to wait per call. It
// reports true while more remain.
func (s *Store) RetryJobs(ctx context.Context, ns keys.Namespace, from job.State, count int, before time.Time) (bool, error) {
	role, _, err := finishedRole(from)
	if err != nil {
		return false, err
	}
	if before.IsZero() {
		before = time.Now()
	}
	v, err := s.Run(ctx, Call{
		Name: ScriptRetryJobs,
		Keys: []string{
			ns.Base(), ns.Key(keys.Events), ns.Key(role), ns.Key(keys.Wait), ns.Key(keys.Paused),
			ns.Key(keys.Meta), ns.Key(keys.Active), ns.Key(keys.Marker), ns.Key(keys.Prioritized),
			ns.Key(keys.PriorityCounter),
		},
		Args: []any{count, before.UnixMilli(), string(role)},
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 1, nil
}

func promoteKeys(ns keys.Namespace) []string {
	return []string{
		ns.Key(keys.Delayed), ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Key(keys.Meta),
		ns.Key(keys.Prioritized), ns.Key(keys.Active), ns.Key(keys.PriorityCounter),
		ns.Key(keys.Events), ns.Key(keys.Marker),
	}
}

// Promote moves a delayed job to wait now.
func (s *Store) Promote(ctx context.Context, ns keys.Namespace, jobID string) error {
	_, err := s.Run(ctx, Call{
		Name:  ScriptPromote,
		Keys:  promoteKeys(ns),
		Args:  []any{ns.Base(), jobID},
		JobID: jobID,
	})
	return err
}

// PromoteJobs moves up to count delayed jobs to wait and returns how many
// moved.
func (s *Store) PromoteJobs(ctx context.Context, ns keys.Namespace, count int) (int64, error) {
	v, err := s.Run(ctx, Call{Name: ScriptPromoteJobs, Keys: promoteKeys(ns), Args: []any{ns.Base(), count}})
	if err != nil {
		return 0, err
	}
	return toInt64(v), nil
}

// ── Job mutation ──

// UpdateProgress stores progress JSON and emits a progress event.
func (s *Store) UpdateProgress(ctx context.Context, ns keys.Namespace, jobID string, progress []byte) error {
	_, err := s.Run(ctx, Call{
		Name:  ScriptUpdateProgress,
		Keys:  []string{ns.Job(jobID), ns.Key(keys.Events), ns.Key(keys.Meta)},
		Args:  []any{jobID, string(progress)},
		JobID: jobID,
	})
	return err
}

// AddLog appends a log line, keeping at most keep lines (0 keeps all).
// It returns the number of stored lines.
func (s *Store) AddLog(ctx context.Context, ns keys.Namespace, jobID, line string, keep int) (int64, error) {
	v, err := s.Run(ctx, Call{
		Name:  ScriptAddLog,
		Keys:  []string{ns.Job(jobID), ns.Logs(jobID)},
		Args:  []any{jobID, line, keep},
		JobID: jobID,
	})
	if err != nil {
		return 0, err
	}
	return toInt64(v), nil
}

// GetLogs returns log lines start..end and the total count.
func (s *Store) GetLogs(ctx context.Context, ns keys.Namespace, jobID string, start, end int64, asc bool) ([]string, int64, error) {
	key := ns.Logs(jobID)
	pipe := s.client.TxPipeline()
	var rng *goredis.StringSliceCmd
	if asc {
		rng = pipe.LRange(ctx, key, start, end)
	} else {
		rng = pipe.LRange(ctx, key, -(end + 1), -(start + 1))
	}
	total := pipe.LLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, fmt.Errorf("strand/redis: get logs: %w", err)
	}
	lines := rng.Val()
	if !asc {
		for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
			lines[i], lines[j] = lines[j], lines[i]
		}
	}
	return lines, total.Val(), nil
}

// UpdateData replaces a job's payload.
func (s *Store) UpdateData(ctx context.Context, ns keys.Namespace, jobID string, data []byte) error {
	_, err := s.Run(ctx, Call{
		Name:  ScriptUpdateData,
		Keys:  []string{ns.Job(jobID)},
		Args:  []any{string(data)},
		JobID: jobID,
	})
	return err
}

// ChangePriority re-scores a waiting job.
func (s *Store) ChangePriority(ctx context.Context, ns keys.Namespace, jobID string, priority int, lifo bool) error {
	if priority < 0 || priority > job.MaxPriority {
		return fmt.Errorf("%w: priority must be between 0 and %d", strand.ErrInvalidOptions, job.MaxPriority)
	}
	_, err := s.Run(ctx, Call{
		Name: ScriptChangePriority,
		Keys: []string{
			ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Key(keys.Meta), ns.Key(keys.Prioritized),
			ns.Key(keys.Active), ns.Key(keys.PriorityCounter), ns.Job(jobID), ns.Key(keys.Marker),
		},
		Args:  []any{priority, jobID, boolArg(lifo)},
		JobID: jobID,
	})
	return err
}

// ChangeDelay reschedules a delayed job to run delay from now.
func (s *Store) ChangeDelay(ctx context.Context, ns keys.Namespace, jobID string, delay time.Duration) error {
	_, err := s.Run(ctx, Call{
		Name: ScriptChangeDelay,
		Keys: []string{
			ns.Key(keys.Delayed), ns.Key(keys.Meta), ns.Key(keys.Marker),
			ns.Key(keys.Events), ns.Job(jobID), ns.Key(keys.Active),
		},
		Args:  []any{delay.Milliseconds(), time.Now().UnixMilli(), jobID},
		JobID: jobID,
	})
	return err
}

// ── Limits ──

// GetRateLimitTTL returns how long the queue stays rate limited. maxJobs
// overrides the stored limit when positive.
func (s *Store) GetRateLimitTTL(ctx context.Context, ns keys.Namespace, maxJobs int) (time.Duration, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptGetRateLimitTTL,
		Keys: []string{ns.Key(keys.Limiter), ns.Key(keys.Meta)},
		Args: []any{maxJobs},
	})
	if err != nil {
		return 0, err
	}
	return time.Duration(toInt64(v)) * time.Millisecond, nil
}

// RateLimit blocks claims on the queue for d.
func (s *Store) RateLimit(ctx context.Context, ns keys.Namespace, d time.Duration) error {
	if err := s.client.Set(ctx, ns.Key(keys.Limiter), "max", d).Err(); err != nil {
		return fmt.Errorf("strand/redis: rate limit: %w", err)
	}
	return nil
}

// IsMaxed reports whether active jobs reached the global concurrency.
func (s *Store) IsMaxed(ctx context.Context, ns keys.Namespace) (bool, error) {
	v, err := s.Run(ctx, Call{Name: ScriptIsMaxed, Keys: []string{ns.Key(keys.Meta), ns.Key(keys.Active)}})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 1, nil
}

// SetMeta writes queue-wide settings to the meta hash.
func (s *Store) SetMeta(ctx context.Context, ns keys.Namespace, fields map[string]any) error {
	if err := s.client.HSet(ctx, ns.Key(keys.Meta), fields).Err(); err != nil {
		return fmt.Errorf("strand/redis: set meta: %w", err)
	}
	return nil
}

// DelMeta removes queue-wide settings from the meta hash.
func (s *Store) DelMeta(ctx context.Context, ns keys.Namespace, fields ...string) error {
	if err := s.client.HDel(ctx, ns.Key(keys.Meta), fields...).Err(); err != nil {
		return fmt.Errorf("strand/redis: del meta: %w", err)
	}
	return nil
}

// GetMeta reads one meta field. A missing field returns "".
func (s *Store) GetMeta(ctx context.Context, ns keys.Namespace, field string) (string, error) {
	v, err := s.client.HGet(ctx, ns.Key(keys.Meta), field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("strand/redis: get meta: %w", err)
	}
	return v, nil
}

// TrimEvents trims the event stream to about maxLen entries.
func (s *Store) TrimEvents(ctx context.Context, ns keys.Namespace, maxLen int64) (int64, error) {
	n, err := s.client.XTrimMaxLenApprox(ctx, ns.Key(keys.Events), maxLen, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("strand/redis: trim events: %w", err)
	}
	return n, nil
}
