package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/scheduler"
	redisstore "github.com/xraph/strand/store/redis"
)

// Queue adds jobs to one named queue and administers its state.
// It is safe for concurrent use.
type Queue struct {
	name       string
	client     goredis.UniversalClient
	store      *redisstore.Store
	ns         keys.Namespace
	config     Config
	logger     *slog.Logger
	scheduler  *scheduler.Manager
	extensions *ext.Registry

	readyMu sync.Mutex
	ready   bool
}

// New creates a Queue. It does not contact Redis; the first operation
// checks the server version and loads the scripts.
func New(name string, client goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		name:   name,
		client: client,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	q.ns = keys.New(q.config.Prefix, name)
	q.store = redisstore.New(client, redisstore.WithLogger(q.logger))
	q.scheduler = scheduler.NewManager(q.store, q.ns, scheduler.WithLogger(q.logger))
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Namespace returns the queue's key namespace.
func (q *Queue) Namespace() keys.Namespace { return q.ns }

// Store returns the script store the queue runs on.
func (q *Queue) Store() *redisstore.Store { return q.store }

// Client returns the underlying Redis client.
func (q *Queue) Client() goredis.UniversalClient { return q.client }

// Ready checks the server version, loads the scripts and records the
// queue's event stream length. It runs once; later calls are no-ops.
func (q *Queue) Ready(ctx context.Context) error {
	q.readyMu.Lock()
	defer q.readyMu.Unlock()
	if q.ready {
		return nil
	}
	if q.client == nil {
		return strand.ErrNoClient
	}
	if strings.Contains(q.config.Prefix, ":") {
		return fmt.Errorf("%w: prefix %q contains ':'", strand.ErrInvalidOptions, q.config.Prefix)
	}
	if !q.config.SkipVersionCheck {
		if err := q.store.CheckVersion(ctx); err != nil {
			return err
		}
	}
	if err := q.store.Load(ctx); err != nil {
		return err
	}
	if q.config.MaxLenEvents > 0 {
		if err := q.store.SetMeta(ctx, q.ns, map[string]any{"opts.maxLenEvents": q.config.MaxLenEvents}); err != nil {
			return err
		}
	}
	q.ready = true
	return nil
}

// ── Adding jobs ──

// Add inserts one job. data is JSON-encoded unless it already is a
// json.RawMessage or []byte.
func (q *Queue) Add(ctx context.Context, name string, data any, opts ...job.Option) (*job.Job, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	args, err := q.prepare(name, data, job.Options{}.Apply(opts...))
	if err != nil {
		return nil, err
	}
	jobID, err := q.store.AddJob(ctx, q.ns, args)
	if err != nil {
		return nil, err
	}
	q.logger.Debug("job added",
		slog.String("queue", q.name),
		slog.String("job_id", jobID),
		slog.String("name", name),
	)
	j := q.newJob(jobID, args)
	q.extensions.EmitJobAdded(ctx, j)
	return j, nil
}

// BulkJob is one entry of AddBulk.
type BulkJob struct {
	Name string
	Data any
	Opts job.Options
}

// AddBulk inserts many jobs in one MULTI transaction. Options are
// validated before anything is sent. A script can still reject its entry
// (a missing parent or a duplicate under another parent); MULTI does not
// roll back the others, so those entries are stored and returned while
// the rejected positions are nil in the result and listed in a
// *strand.BulkError.
func (q *Queue) AddBulk(ctx context.Context, jobs []BulkJob) ([]*job.Job, error) {
	if err := q.Ready(ctx); err != nil {
		return nil, err
	}
	now := time.Now()
	calls := make([]redisstore.Call, len(jobs))
	args := make([]redisstore.AddJobArgs, len(jobs))
	for i, b := range jobs {
		a, err := q.prepare(b.Name, b.Data, b.Opts)
		if err != nil {
			return nil, fmt.Errorf("queue: bulk job %d: %w", i, err)
		}
		c, err := redisstore.AddJobCall(q.ns, a, now)
		if err != nil {
			return nil, err
		}
		args[i], calls[i] = a, c
	}

	pipe := q.client.TxPipeline()
	cmds := make([]*goredis.Cmd, len(calls))
	for i, c := range calls {
		cmd, err := q.store.Queue(ctx, pipe, c)
		if err != nil {
			return nil, err
		}
		cmds[i] = cmd
	}
	_, execErr := pipe.Exec(ctx)

	out := make([]*job.Job, len(cmds))
	failed := map[int]error{}
	for i, cmd := range cmds {
		v, err := redisstore.Result(calls[i], cmd)
		if err != nil {
			failed[i] = err
			continue
		}
		out[i] = q.newJob(fmt.Sprint(v), args[i])
	}
	if len(failed) == len(cmds) && execErr != nil {
		return nil, fmt.Errorf("queue: add bulk: %w", execErr)
	}
	for _, j := range out {
		if j != nil {
			q.extensions.EmitJobAdded(ctx, j)
		}
	}
	if len(failed) > 0 {
		q.logger.Warn("bulk add partially rejected",
			slog.String("queue", q.ns.Queue()),
			slog.Int("rejected", len(failed)),
			slog.Int("added", len(cmds)-len(failed)),
		)
		return out, &strand.BulkError{Failed: failed}
	}
	return out, nil
}

func (q *Queue) prepare(name string, data any, opts job.Options) (redisstore.AddJobArgs, error) {
	opts = opts.Merge(q.config.DefaultJobOptions)
	if err := opts.Validate(); err != nil {
		return redisstore.AddJobArgs{}, err
	}
	raw, err := EncodeData(data)
	if err != nil {
		return redisstore.AddJobArgs{}, err
	}
	if opts.SizeLimit > 0 && len(raw) > opts.SizeLimit {
		return redisstore.AddJobArgs{}, fmt.Errorf("%w: payload of %d bytes exceeds size limit %d",
			strand.ErrInvalidOptions, len(raw), opts.SizeLimit)
	}
	if opts.Timestamp == 0 {
		opts.Timestamp = time.Now().UnixMilli()
	}
	return redisstore.AddJobArgs{Name: name, Data: raw, Opts: opts}, nil
}

func (q *Queue) newJob(jobID string, args redisstore.AddJobArgs) *job.Job {
	return &job.Job{
		ID:           jobID,
		Queue:        q.name,
		Name:         args.Name,
		Data:         args.Data,
		Opts:         args.Opts,
		Timestamp:    time.UnixMilli(args.Opts.Timestamp),
		Delay:        time.Duration(args.Opts.Delay) * time.Millisecond,
		Priority:     args.Opts.Priority,
		Parent:       args.Opts.Parent,
		RepeatJobKey: args.Opts.RepeatJobKey,
	}
}

// EncodeData turns a payload into JSON. Raw JSON is passed through.
func EncodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", strand.ErrInvalidOptions)
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("queue: encode payload: %w", err)
		}
		return b, nil
	}
}
