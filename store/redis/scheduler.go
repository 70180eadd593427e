package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
)

// SchedulerTemplate is the job a scheduler produces on every run.
type SchedulerTemplate struct {
	Name string
	Data json.RawMessage
	Opts job.Options
}

// SchedulerRecord is a stored scheduler: its raw hash and next run.
type SchedulerRecord struct {
	ID         string
	Fields     map[string]string
	Template   SchedulerTemplate
	Iterations int64
	NextMillis int64
}

func schedulerKeys(ns keys.Namespace) []string {
	return []string{
		ns.Key(keys.Repeat), ns.Key(keys.Delayed), ns.Key(keys.Wait), ns.Key(keys.Paused),
		ns.Key(keys.Meta), ns.Key(keys.Prioritized), ns.Key(keys.Marker), ns.Key(keys.Events),
		ns.Key(keys.PriorityCounter), ns.Key(keys.Active),
	}
}

// AddJobScheduler creates or replaces a scheduler and its next run at
// nextMillis. fields are msgpack-encoded into the scheduler hash. every
// is the fixed interval, zero for cron patterns. It returns the run id.
func (s *Store) AddJobScheduler(ctx context.Context, ns keys.Namespace, id string, nextMillis int64, fields any, tpl SchedulerTemplate, every time.Duration) (string, error) {
	packedFields, err := msgpack.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("strand/redis: add job scheduler: %w", err)
	}
	opts := tpl.Opts
	opts.Parent = nil
	packedOpts, err := msgpack.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("strand/redis: add job scheduler: %w", err)
	}
	data := string(tpl.Data)
	if data == "" {
		data = "{}"
	}
	v, err := s.Run(ctx, Call{
		Name: ScriptAddJobScheduler,
		Keys: schedulerKeys(ns),
		Args: []any{
			id, nextMillis, packedFields, tpl.Name, data, packedOpts,
			time.Now().UnixMilli(), ns.Base(), every.Milliseconds(),
		},
	})
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// UpdateJobScheduler materialises the run after producerID. It returns ""
// when producerID is not the scheduler's current run, or the scheduler is
// gone or exhausted.
func (s *Store) UpdateJobScheduler(ctx context.Context, ns keys.Namespace, id string, nextMillis int64, producerID string, every time.Duration) (string, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptUpdateJobScheduler,
		Keys: schedulerKeys(ns),
		Args: []any{id, nextMillis, producerID, time.Now().UnixMilli(), ns.Base(), every.Milliseconds()},
	})
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// RemoveJobScheduler deletes a scheduler and its pending run. It reports
// false when no such scheduler exists.
func (s *Store) RemoveJobScheduler(ctx context.Context, ns keys.Namespace, id string) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptRemoveJobScheduler,
		Keys: []string{ns.Key(keys.Repeat), ns.Key(keys.Events)},
		Args: []any{id, ns.Base()},
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 0, nil
}

// GetJobScheduler loads one scheduler. It returns nil when none exists.
func (s *Store) GetJobScheduler(ctx context.Context, ns keys.Namespace, id string) (*SchedulerRecord, error) {
	pipe := s.client.Pipeline()
	hash := pipe.HGetAll(ctx, ns.Scheduler(id))
	score := pipe.ZScore(ctx, ns.Key(keys.Repeat), id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("strand/redis: get job scheduler: %w", err)
	}
	if score.Err() != nil || len(hash.Val()) == 0 {
		return nil, nil //nolint:nilnil // absent scheduler
	}
	return parseScheduler(id, hash.Val(), int64(score.Val()))
}

// ListJobSchedulers returns schedulers ordered by next run, positions
// start..end.
func (s *Store) ListJobSchedulers(ctx context.Context, ns keys.Namespace, start, end int64, asc bool) ([]*SchedulerRecord, error) {
	var (
		zs  []goredis.Z
		err error
	)
	if asc {
		zs, err = s.client.ZRangeWithScores(ctx, ns.Key(keys.Repeat), start, end).Result()
	} else {
		zs, err = s.client.ZRevRangeWithScores(ctx, ns.Key(keys.Repeat), start, end).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("strand/redis: list job schedulers: %w", err)
	}

	pipe := s.client.Pipeline()
	hashes := make([]*goredis.MapStringStringCmd, len(zs))
	for i, z := range zs {
		hashes[i] = pipe.HGetAll(ctx, ns.Scheduler(toString(z.Member)))
	}
	if len(zs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("strand/redis: list job schedulers: %w", err)
		}
	}

	out := make([]*SchedulerRecord, 0, len(zs))
	for i, z := range zs {
		rec, err := parseScheduler(toString(z.Member), hashes[i].Val(), int64(z.Score))
		if err != nil {
			s.logger.Warn("skipping unreadable job scheduler",
				slog.String("scheduler_id", toString(z.Member)),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountJobSchedulers returns the number of schedulers.
func (s *Store) CountJobSchedulers(ctx context.Context, ns keys.Namespace) (int64, error) {
	n, err := s.client.ZCard(ctx, ns.Key(keys.Repeat)).Result()
	if err != nil {
		return 0, fmt.Errorf("strand/redis: count job schedulers: %w", err)
	}
	return n, nil
}

func parseScheduler(id string, h map[string]string, next int64) (*SchedulerRecord, error) {
	rec := &SchedulerRecord{
		ID:         id,
		Fields:     h,
		NextMillis: next,
		Template: SchedulerTemplate{
			Name: h["name"],
			Data: json.RawMessage(h["data"]),
		},
	}
	if raw := h["opts"]; raw != "" {
		if err := msgpack.Unmarshal([]byte(raw), &rec.Template.Opts); err != nil {
			return nil, fmt.Errorf("strand/redis: scheduler %s opts: %w", id, err)
		}
	}
	rec.Iterations, _ = strconv.ParseInt(h["ic"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	return rec, nil
}
