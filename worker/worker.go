package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/strand"
	"github.com/xraph/strand/backoff"
	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/id"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/lock"
	"github.com/xraph/strand/middleware"
	"github.com/xraph/strand/queue"
	redisstore "github.com/xraph/strand/store/redis"
)

// errorBackoff is the pause after a failed claim round trip.
const errorBackoff = time.Second

// Worker claims jobs from one queue and runs them through a handler.
type Worker struct {
	queue      *queue.Queue
	store      *redisstore.Store
	ns         keys.Namespace
	handler    job.HandlerFunc
	config     Config
	logger     *slog.Logger
	extensions *ext.Registry
	mws        []middleware.Middleware
	mw         middleware.Middleware
	backoffs   map[string]backoff.Func
	local      *rate.Limiter
	locks      *lock.Manager
	workerID   id.ID

	stopCtx    context.Context
	stopCancel context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
	started    bool

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// New creates a worker for queueName. handler runs every claimed job;
// use (*job.Registry).Process to serve several job names.
func New(queueName string, client goredis.UniversalClient, handler job.HandlerFunc, opts ...Option) *Worker {
	w := &Worker{
		handler:    handler,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		workerID:   id.NewWorkerID(),
		done:       make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.config.Concurrency < 1 {
		w.config.Concurrency = 1
	}
	if w.config.Name == "" {
		w.config.Name = w.workerID.String()
	}
	w.stopCtx, w.stopCancel = context.WithCancel(context.Background())

	qopts := []queue.Option{
		queue.WithPrefix(w.config.Prefix),
		queue.WithLogger(w.logger),
	}
	if w.config.SkipVersionCheck {
		qopts = append(qopts, queue.WithSkipVersionCheck())
	}
	w.queue = queue.New(queueName, client, qopts...)
	w.store = w.queue.Store()
	w.ns = w.queue.Namespace()
	w.mw = middleware.Chain(w.mws...)

	w.locks = lock.NewManager(
		lock.ExtenderFunc(func(ctx context.Context, ids, tokens []string, d time.Duration) ([]string, error) {
			return w.store.ExtendLocks(ctx, w.ns, ids, tokens, d)
		}),
		w.logger,
		lock.WithDuration(w.config.LockDuration),
		lock.WithOnRenewalFailed(func(ctx context.Context, ids []string) {
			w.extensions.EmitLockRenewalFailed(ctx, queueName, ids)
		}),
	)

	if w.config.Autorun {
		if err := w.Start(context.Background()); err != nil {
			w.logger.Error("worker autorun failed",
				slog.String("queue", queueName),
				slog.String("error", err.Error()),
			)
		}
	}
	return w
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() id.ID { return w.workerID }

// Queue returns the queue the worker claims from.
func (w *Worker) Queue() *queue.Queue { return w.queue }

// Start checks the server, then launches the worker in the background.
// It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.Ready(ctx); err != nil {
		return err
	}
	go func() {
		if err := w.Run(context.Background()); err != nil && !errors.Is(err, strand.ErrWorkerClosed) {
			w.logger.Error("worker stopped with error",
				slog.String("worker_id", w.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Run processes jobs until ctx is done or Stop is called. In-flight jobs
// finish before Run returns. A worker runs once.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopCtx.Err() != nil {
		w.mu.Unlock()
		return strand.ErrWorkerClosed
	}
	w.started = true
	w.mu.Unlock()
	defer close(w.done)

	if err := w.queue.Ready(ctx); err != nil {
		return err
	}

	w.logger.Info("worker starting",
		slog.String("worker_id", w.workerID.String()),
		slog.String("queue", w.ns.Queue()),
		slog.Int("concurrency", w.config.Concurrency),
	)

	stopWatch := context.AfterFunc(ctx, w.stopCancel)
	defer stopWatch()

	// Lock renewal and stalled sweeps outlive the claim loops so jobs
	// still draining keep their locks.
	svcCtx, svcCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer svcCancel()
	svc, svcCtx := errgroup.WithContext(svcCtx)
	if !w.config.SkipLockRenewal {
		svc.Go(func() error { return w.locks.Run(svcCtx) })
	}
	if w.config.StalledInterval > 0 {
		svc.Go(func() error { return w.sweepLoop(svcCtx) })
	}

	var loops errgroup.Group
	for range w.config.Concurrency {
		loops.Go(func() error {
			w.claimLoop()
			return nil
		})
	}
	err := loops.Wait()

	svcCancel()
	if serr := svc.Wait(); err == nil {
		err = serr
	}

	w.extensions.EmitShutdown(context.WithoutCancel(ctx))
	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
	return err
}

// Stop signals the claim loops to stop and waits for in-flight jobs.
// When ctx ends first, in-flight jobs are cancelled; their locks expire
// and the stalled sweep of another worker recovers them.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopCancel()

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && w.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.ShutdownTimeout)
		defer cancel()
	}

	w.logger.Info("worker stopping", slog.String("worker_id", w.workerID.String()))

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("worker shutdown timed out, cancelling active jobs")
		w.cancelActiveJobs()
		<-w.done
		return ctx.Err()
	}
}

// Running reports whether Run is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) stopping() bool { return w.stopCtx.Err() != nil }

// claimLoop is run by each concurrency slot. A finished job hands the
// next claimed job straight back through process.
func (w *Worker) claimLoop() {
	var j *job.Job
	for {
		if j == nil {
			if w.stopping() {
				return
			}
			c, err := w.claim(w.stopCtx)
			if err != nil {
				if !w.stopping() {
					w.logger.Error("claim failed",
						slog.String("queue", w.ns.Queue()),
						slog.String("error", err.Error()),
					)
					w.sleep(errorBackoff)
				}
				continue
			}
			if c.Job == nil {
				w.idle(c)
				continue
			}
			j = c.Job
		}
		j = w.process(j)
	}
}

func (w *Worker) claimOptions() redisstore.ClaimOptions {
	opts := redisstore.ClaimOptions{
		Token:        id.NewToken(),
		LockDuration: w.config.LockDuration.Milliseconds(),
		Name:         w.config.Name,
	}
	if l := w.config.Limiter; l != nil && l.Max > 0 {
		opts.Limiter = &redisstore.Limiter{Max: l.Max, Duration: l.Duration.Milliseconds()}
	}
	return opts
}

func (w *Worker) claim(ctx context.Context) (*redisstore.Claim, error) {
	if w.local != nil {
		if err := w.local.Wait(ctx); err != nil {
			return nil, fmt.Errorf("worker: local rate limit: %w", err)
		}
	}
	return w.store.MoveToActive(context.Background(), w.ns, w.claimOptions())
}

// idle waits after an empty claim: the limiter ttl when rate limited,
// otherwise on the marker key until a job is added or the next delayed
// job is due.
func (w *Worker) idle(c *redisstore.Claim) {
	if c.RateLimited > 0 {
		w.sleep(c.RateLimited)
		return
	}

	timeout := w.config.DrainDelay
	if !c.NextDelayed.IsZero() {
		if until := time.Until(c.NextDelayed); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return
	}
	if c.NextDelayed.IsZero() {
		w.extensions.EmitQueueDrained(w.stopCtx, w.ns.Queue())
	}

	res, err := w.store.Client().BZPopMin(w.stopCtx, timeout, w.ns.Key(keys.Marker)).Result()
	switch {
	case errors.Is(err, goredis.Nil), w.stopping():
		return
	case err != nil:
		w.logger.Warn("wait for job failed",
			slog.String("queue", w.ns.Queue()),
			slog.String("error", err.Error()),
		)
		w.sleep(errorBackoff)
		return
	}
	// A delay marker carries the due time of the next delayed job.
	if due := time.UnixMilli(int64(res.Score)); res.Score > 0 {
		if wait := time.Until(due); wait > 0 {
			w.sleep(min(wait, w.config.DrainDelay))
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCtx.Done():
	}
}

func (w *Worker) trackJob(jobID string, cancel context.CancelFunc) {
	w.activeMu.Lock()
	w.activeJobs[jobID] = cancel
	w.activeMu.Unlock()
}

func (w *Worker) untrackJob(jobID string) {
	w.activeMu.Lock()
	delete(w.activeJobs, jobID)
	w.activeMu.Unlock()
}

func (w *Worker) cancelActiveJobs() {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	for jobID, cancel := range w.activeJobs {
		w.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}

// ActiveCount returns the number of jobs being processed.
func (w *Worker) ActiveCount() int {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	return len(w.activeJobs)
}
