package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/strand"
	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	redisstore "github.com/xraph/strand/store/redis"
)

// Producer adds flows: trees of jobs where every parent waits in
// waiting-children until its children finish. A whole tree is added in
// one MULTI transaction. It is safe for concurrent use.
type Producer struct {
	client     goredis.UniversalClient
	store      *redisstore.Store
	prefix     string
	logger     *slog.Logger
	extensions *ext.Registry
	defaults   map[string]job.Options

	skipVersionCheck bool

	readyMu sync.Mutex
	ready   bool
}

// Option configures a Producer.
type Option func(*Producer)

// WithPrefix sets the default key prefix of flow queues.
func WithPrefix(prefix string) Option {
	return func(p *Producer) { p.prefix = prefix }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Producer) { p.logger = l }
}

// WithExtensions sets the registry notified of added jobs.
func WithExtensions(r *ext.Registry) Option {
	return func(p *Producer) { p.extensions = r }
}

// WithQueueDefaults sets options merged into every job of the named queue.
func WithQueueDefaults(queueName string, opts job.Options) Option {
	return func(p *Producer) { p.defaults[queueName] = opts }
}

// WithSkipVersionCheck disables the server version check.
func WithSkipVersionCheck() Option {
	return func(p *Producer) { p.skipVersionCheck = true }
}

// NewProducer creates a Producer. It does not contact Redis.
func NewProducer(client goredis.UniversalClient, opts ...Option) *Producer {
	p := &Producer{
		client:   client,
		prefix:   strand.DefaultConfig().Prefix,
		logger:   slog.Default(),
		defaults: make(map[string]job.Options),
	}
	for _, o := range opts {
		o(p)
	}
	p.store = redisstore.New(client, redisstore.WithLogger(p.logger))
	return p
}

// Ready checks the server version and loads the scripts. Add calls it.
func (p *Producer) Ready(ctx context.Context) error {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	if p.ready {
		return nil
	}
	if !p.skipVersionCheck {
		if err := p.store.CheckVersion(ctx); err != nil {
			return err
		}
	}
	// Pipelined calls use EVALSHA, so the scripts must be cached first.
	if err := p.store.Load(ctx); err != nil {
		return err
	}
	p.ready = true
	return nil
}

func (p *Producer) queueDefaults(ns keys.Namespace) job.Options {
	return p.defaults[ns.Queue()]
}

// Add inserts the tree rooted at f in one transaction and returns it with
// the assigned ids.
func (p *Producer) Add(ctx context.Context, f Job) (*Node, error) {
	nodes, err := p.AddBulk(ctx, []Job{f})
	var bulk *strand.BulkError
	if errors.As(err, &bulk) {
		return nil, bulk.Failed[0]
	}
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// AddBulk inserts several trees in one transaction. Like any MULTI
// block, a script that rejects its job does not undo the other calls.
// Trees with a rejected node come back nil and their positions, with the
// first rejection of each, are listed in a *strand.BulkError; nodes of
// such a tree that were accepted stay stored.
func (p *Producer) AddBulk(ctx context.Context, flows []Job) ([]*Node, error) {
	if err := p.Ready(ctx); err != nil {
		return nil, err
	}

	var steps []step
	var owner []int
	roots := make([]*Node, len(flows))
	for i, f := range flows {
		s, root, err := plan(f, p.prefix, nil, p.queueDefaults)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s...)
		for range s {
			owner = append(owner, i)
		}
		roots[i] = root
	}

	now := time.Now()
	calls := make([]redisstore.Call, len(steps))
	for i, s := range steps {
		c, err := redisstore.AddJobCall(s.ns, s.args, now)
		if err != nil {
			return nil, err
		}
		calls[i] = c
		s.node.Job.Timestamp = now
		if s.args.Opts.Timestamp != 0 {
			s.node.Job.Timestamp = time.UnixMilli(s.args.Opts.Timestamp)
		}
	}

	pipe := p.client.TxPipeline()
	cmds := make([]*goredis.Cmd, len(calls))
	for i, c := range calls {
		cmd, err := p.store.Queue(ctx, pipe, c)
		if err != nil {
			return nil, err
		}
		cmds[i] = cmd
	}
	_, execErr := pipe.Exec(ctx)

	failed := map[int]error{}
	for i, cmd := range cmds {
		v, err := redisstore.Result(calls[i], cmd)
		if err != nil {
			if _, seen := failed[owner[i]]; !seen {
				failed[owner[i]] = fmt.Errorf("flow: add %s: %w", steps[i].node.Job.ID, err)
			}
			continue
		}
		if jobID := fmt.Sprint(v); jobID != "" {
			steps[i].node.Job.ID = jobID
		}
	}
	if len(failed) == len(flows) && execErr != nil {
		return nil, fmt.Errorf("flow: add: %w", execErr)
	}

	for i, s := range steps {
		if _, bad := failed[owner[i]]; !bad {
			p.extensions.EmitJobAdded(ctx, s.node.Job)
		}
	}
	if len(failed) > 0 {
		for n := range failed {
			roots[n] = nil
		}
		p.logger.Warn("flow add partially rejected",
			slog.Int("flows", len(flows)),
			slog.Int("rejected", len(failed)),
		)
		return roots, &strand.BulkError{Failed: failed}
	}
	p.logger.Debug("flow added",
		slog.Int("flows", len(flows)),
		slog.Int("jobs", len(steps)),
	)
	return roots, nil
}

// GetFlowOptions bounds GetFlow.
type GetFlowOptions struct {
	// Depth limits how many levels are loaded. Zero means 10.
	Depth int
	// MaxChildren limits the children loaded per node. Zero means all.
	MaxChildren int
}

// GetFlow loads the tree rooted at the given job. Children are found
// through the pending dependencies and the processed and failed results
// of each parent.
func (p *Producer) GetFlow(ctx context.Context, queueName, jobID string, opts GetFlowOptions) (*Node, error) {
	if err := p.Ready(ctx); err != nil {
		return nil, err
	}
	if opts.Depth <= 0 {
		opts.Depth = 10
	}
	return p.loadNode(ctx, keys.New(p.prefix, queueName), jobID, opts.Depth, opts.MaxChildren)
}

func (p *Producer) loadNode(ctx context.Context, ns keys.Namespace, jobID string, depth, maxChildren int) (*Node, error) {
	j, err := p.store.GetJob(ctx, ns, jobID)
	if err != nil {
		return nil, err
	}
	node := &Node{Job: j}
	if depth <= 1 {
		return node, nil
	}

	childKeys, err := p.childKeys(ctx, ns, jobID, maxChildren)
	if err != nil {
		return nil, err
	}
	node.Children = make([]*Node, len(childKeys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range childKeys {
		g.Go(func() error {
			ref, err := keys.ParseJobKey(key)
			if err != nil {
				return err
			}
			child, err := p.loadNode(gctx, ref.Namespace, ref.ID, depth-1, maxChildren)
			if errors.Is(err, strand.ErrJobNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			node.Children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Children removed after finishing leave a dangling reference.
	kept := node.Children[:0]
	for _, c := range node.Children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	node.Children = kept
	return node, nil
}

func (p *Producer) childKeys(ctx context.Context, ns keys.Namespace, jobID string, limit int) ([]string, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit - 1)
	}

	var out []string
	pending, err := p.store.Paginate(ctx, ns.Dependencies(jobID), 0, end)
	if err != nil {
		return nil, err
	}
	out = append(out, pending.Items...)

	// Result hashes list field/value pairs; the field is the child key.
	for _, key := range []string{ns.Processed(jobID), ns.Failed(jobID)} {
		page, err := p.store.Paginate(ctx, key, 0, end)
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(page.Items); i += 2 {
			out = append(out, page.Items[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
