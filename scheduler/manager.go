package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	redisstore "github.com/xraph/strand/store/redis"
)

// Template is the job every run of a scheduler produces.
type Template struct {
	Name string
	Data json.RawMessage
	Opts job.Options
}

// Scheduler is a stored job scheduler.
type Scheduler struct {
	ID         string
	Spec       Spec
	Template   Template
	Iterations int64
	Next       time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager creates, advances and removes the job schedulers of one queue.
type Manager struct {
	store  *redisstore.Store
	ns     keys.Namespace
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(store *redisstore.Store, ns keys.Namespace, opts ...Option) *Manager {
	m := &Manager{store: store, ns: ns, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RunID returns the job id of the run of scheduler id due at millis.
func RunID(schedulerID string, millis int64) string {
	return "repeat:" + schedulerID + ":" + strconv.FormatInt(millis, 10)
}

// ParseRunID splits a run id into scheduler id and due time.
func ParseRunID(jobID string) (string, int64, bool) {
	rest, ok := strings.CutPrefix(jobID, "repeat:")
	if !ok {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, false
	}
	millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:i], millis, true
}

// Upsert creates or replaces scheduler id and materialises its first run.
// A pending run of the previous definition is dropped. It returns the run
// job id.
func (m *Manager) Upsert(ctx context.Context, id string, spec Spec, tpl Template) (string, error) {
	if id == "" || strings.Contains(id, ":") {
		return "", fmt.Errorf("%w: scheduler id %q", strand.ErrInvalidOptions, id)
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if tpl.Opts.JobID != "" || tpl.Opts.Parent != nil || tpl.Opts.Delay != 0 {
		return "", fmt.Errorf("%w: scheduler templates cannot set jobId, parent or delay", strand.ErrInvalidOptions)
	}
	if err := tpl.Opts.Validate(); err != nil {
		return "", err
	}

	next, err := NextMillis(spec, 0, m.now())
	if err != nil {
		return "", err
	}
	runID, err := m.store.AddJobScheduler(ctx, m.ns, id, next, spec.fields(), redisstore.SchedulerTemplate{
		Name: tpl.Name,
		Data: tpl.Data,
		Opts: tpl.Opts,
	}, spec.Every)
	if err != nil {
		return "", err
	}
	m.logger.Info("job scheduler upserted",
		slog.String("queue", m.ns.Queue()),
		slog.String("scheduler_id", id),
		slog.String("job_id", runID),
		slog.Time("next_run", time.UnixMilli(next)),
	)
	return runID, nil
}

// Next materialises the run that follows j, a scheduler run that just
// became active. Only the scheduler's current run advances it, so calls
// for stale runs return "". A schedule past its end date is removed.
func (m *Manager) Next(ctx context.Context, j *job.Job) (string, error) {
	schedulerID, prev, ok := ParseRunID(j.ID)
	if !ok {
		return "", nil
	}
	sched, err := m.Get(ctx, schedulerID)
	if err != nil || sched == nil {
		return "", err
	}

	next, err := NextMillis(sched.Spec, prev, m.now())
	if errors.Is(err, strand.ErrScheduleExhausted) {
		m.logger.Info("job scheduler exhausted",
			slog.String("queue", m.ns.Queue()),
			slog.String("scheduler_id", schedulerID),
		)
		_, err = m.store.RemoveJobScheduler(ctx, m.ns, schedulerID)
		return "", err
	}
	if err != nil {
		return "", err
	}

	runID, err := m.store.UpdateJobScheduler(ctx, m.ns, schedulerID, next, j.ID, sched.Spec.Every)
	if err != nil {
		return "", err
	}
	if runID != "" {
		m.logger.Debug("job scheduler advanced",
			slog.String("scheduler_id", schedulerID),
			slog.String("job_id", runID),
		)
	}
	return runID, nil
}

// Remove deletes a scheduler and its pending run.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	return m.store.RemoveJobScheduler(ctx, m.ns, id)
}

// Get loads a scheduler. It returns nil when none exists.
func (m *Manager) Get(ctx context.Context, id string) (*Scheduler, error) {
	rec, err := m.store.GetJobScheduler(ctx, m.ns, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// List returns schedulers ordered by next run, positions start..end.
func (m *Manager) List(ctx context.Context, start, end int64, asc bool) ([]*Scheduler, error) {
	recs, err := m.store.ListJobSchedulers(ctx, m.ns, start, end, asc)
	if err != nil {
		return nil, err
	}
	out := make([]*Scheduler, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

// Count returns the number of schedulers.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	return m.store.CountJobSchedulers(ctx, m.ns)
}

func fromRecord(r *redisstore.SchedulerRecord) *Scheduler {
	return &Scheduler{
		ID:   r.ID,
		Spec: specFromHash(r.Fields),
		Template: Template{
			Name: r.Template.Name,
			Data: r.Template.Data,
			Opts: r.Template.Opts,
		},
		Iterations: r.Iterations,
		Next:       time.UnixMilli(r.NextMillis),
	}
}
