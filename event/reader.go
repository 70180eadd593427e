package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/queue"
)

// JobLookup reads job state for WaitUntilFinished. *queue.Queue
// implements it.
type JobLookup interface {
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	GetJobState(ctx context.Context, jobID string) (job.State, error)
}

var _ JobLookup = (*queue.Queue)(nil)

// Filter selects the events delivered to a subscription. Zero fields
// match everything.
type Filter struct {
	Types []Type
	JobID string
}

func (f Filter) match(e Event) bool {
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

type subscription struct {
	filter Filter
	ch     chan Event
	done   chan struct{}
}

// Reader tails the events stream of one queue and fans the entries out
// to subscribers. Delivery blocks on slow subscribers, so a subscriber
// must drain its channel or cancel.
type Reader struct {
	queue  string
	key    string
	prefix string
	src    Source
	jobs   JobLookup
	logger *slog.Logger

	block  time.Duration
	count  int64
	lastID string
	buffer int

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
	running bool
	closed  bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Reader) { r.prefix = prefix }
}

// WithBlock sets how long one XREAD blocks. Default 10s.
func WithBlock(d time.Duration) Option {
	return func(r *Reader) { r.block = d }
}

// WithCount caps the entries fetched per read. Default 100.
func WithCount(n int64) Option {
	return func(r *Reader) { r.count = n }
}

// WithLastID starts reading after the given entry id. "0" replays the
// whole stream. The default "$" starts at the newest entry.
func WithLastID(streamID string) Option {
	return func(r *Reader) { r.lastID = streamID }
}

// WithBuffer sets the channel capacity of new subscriptions. Default 64.
func WithBuffer(n int) Option {
	return func(r *Reader) { r.buffer = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithSource replaces the stream reader.
func WithSource(src Source) Option {
	return func(r *Reader) { r.src = src }
}

// WithJobLookup replaces the job reader used by WaitUntilFinished.
func WithJobLookup(jobs JobLookup) Option {
	return func(r *Reader) { r.jobs = jobs }
}

// NewReader creates a Reader for the named queue. Call Run to start it.
func NewReader(client goredis.UniversalClient, queueName string, opts ...Option) *Reader {
	r := &Reader{
		queue:  queueName,
		prefix: strand.DefaultConfig().Prefix,
		logger: slog.Default(),
		block:  10 * time.Second,
		count:  100,
		lastID: "$",
		buffer: 64,
		subs:   make(map[uint64]*subscription),
	}
	for _, o := range opts {
		o(r)
	}
	r.key = keys.New(r.prefix, queueName).Key(keys.Events)
	if r.src == nil {
		r.src = redisSource{client: client}
	}
	if r.jobs == nil {
		r.jobs = queue.New(queueName, client, queue.WithPrefix(r.prefix), queue.WithLogger(r.logger))
	}
	return r
}

// Subscribe registers a subscription. The returned cancel func removes
// it; the channel is closed when Run returns.
func (r *Reader) Subscribe(f Filter) (<-chan Event, func()) {
	sub := &subscription{
		filter: f,
		ch:     make(chan Event, r.buffer),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	n := r.nextSub
	r.nextSub++
	r.subs[n] = sub
	r.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, n)
			r.mu.Unlock()
			close(sub.done)
		})
	}
}

// Run reads the stream until ctx is done. A Reader runs once.
func (r *Reader) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running || r.closed {
		r.mu.Unlock()
		return strand.ErrReaderClosed
	}
	r.running = true
	r.mu.Unlock()
	defer r.close()

	lastID := r.lastID
	if lastID == "$" {
		// Resolve "$" once so entries written between two reads are not
		// skipped.
		id, err := r.src.LastID(ctx, r.key)
		if err != nil {
			return err
		}
		lastID = id
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := r.src.Read(ctx, r.key, lastID, r.block, r.count)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("event read failed",
				slog.String("queue", r.queue),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			lastID = msg.ID
			r.dispatch(ctx, FromMessage(r.queue, msg))
		}
	}
}

func (r *Reader) dispatch(ctx context.Context, e Event) {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.filter.match(e) {
			subs = append(subs, s)
		}
	}
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for n, s := range r.subs {
		close(s.ch)
		delete(r.subs, n)
	}
}

// WaitUntilFinished blocks until the job completes or fails and returns
// its return value. A failed job returns an error wrapping
// strand.ErrJobFailed. A zero timeout waits until ctx is done. The
// Reader must be running.
func (r *Reader) WaitUntilFinished(ctx context.Context, jobID string, timeout time.Duration) (json.RawMessage, error) {
	events, cancel := r.Subscribe(Filter{JobID: jobID, Types: []Type{Completed, Failed}})
	defer cancel()

	// Subscribed first, so a job finishing now is seen either here or
	// on the stream.
	state, err := r.jobs.GetJobState(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch state {
	case job.StateCompleted, job.StateFailed:
		j, err := r.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if state == job.StateFailed {
			return nil, failedError(jobID, j.FailedReason)
		}
		return j.ReturnValue, nil
	case job.StateUnknown:
		return nil, fmt.Errorf("%w: %s", strand.ErrJobNotFound, jobID)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case e, ok := <-events:
		if !ok {
			return nil, strand.ErrReaderClosed
		}
		if e.Type == Failed {
			return nil, failedError(jobID, e.FailedReason)
		}
		return e.ReturnValue, nil
	case <-expired:
		return nil, fmt.Errorf("%w: job %s after %s", strand.ErrWaitTimedOut, jobID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failedError(jobID, reason string) error {
	return fmt.Errorf("%w: %s: %s", strand.ErrJobFailed, jobID, reason)
}
