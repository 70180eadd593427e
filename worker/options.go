package worker

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/strand"
	"github.com/xraph/strand/backoff"
	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/middleware"
)

// Limiter caps how many jobs all workers of a queue start per Duration.
// It is enforced inside the claim script.
type Limiter struct {
	Max      int
	Duration time.Duration
}

// Config configures a Worker.
type Config struct {
	// Prefix namespaces every key. It must match the queue's prefix.
	Prefix string

	// Name is recorded on claimed jobs as the processing worker.
	Name string

	// Concurrency is the number of jobs processed at once.
	Concurrency int

	// LockDuration is the ttl of a job lock, renewed every LockDuration/2.
	LockDuration time.Duration

	// StalledInterval is how often the stalled sweep runs. Zero disables it.
	StalledInterval time.Duration

	// MaxStalledCount is how many times a job may stall before it fails.
	MaxStalledCount int

	// DrainDelay is the longest an idle worker blocks waiting for a job.
	DrainDelay time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs when
	// the caller's context has no deadline.
	ShutdownTimeout time.Duration

	// Limiter is the queue-wide rate limit. Nil disables it.
	Limiter *Limiter

	// RemoveOnComplete and RemoveOnFail apply to jobs that set no policy.
	RemoveOnComplete *job.KeepJobs
	RemoveOnFail     *job.KeepJobs

	// Autorun starts the worker from New.
	Autorun bool

	// SkipLockRenewal disables the lock manager.
	SkipLockRenewal bool

	// SkipVersionCheck disables the server version check on start.
	SkipVersionCheck bool
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	root := strand.DefaultConfig()
	return Config{
		Prefix:          root.Prefix,
		Concurrency:     root.Concurrency,
		LockDuration:    root.LockDuration,
		StalledInterval: root.StalledInterval,
		MaxStalledCount: root.MaxStalledCount,
		DrainDelay:      root.DrainDelay,
		ShutdownTimeout: root.ShutdownTimeout,
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(w *Worker) { w.config = cfg }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(w *Worker) { w.config.Prefix = prefix }
}

// WithName sets the worker name recorded on claimed jobs.
func WithName(name string) Option {
	return func(w *Worker) { w.config.Name = name }
}

// WithConcurrency sets the number of jobs processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) { w.config.Concurrency = n }
}

// WithLockDuration sets the lock ttl.
func WithLockDuration(d time.Duration) Option {
	return func(w *Worker) { w.config.LockDuration = d }
}

// WithStalledInterval sets how often the stalled sweep runs.
func WithStalledInterval(d time.Duration) Option {
	return func(w *Worker) { w.config.StalledInterval = d }
}

// WithMaxStalledCount sets how many stalls a job survives.
func WithMaxStalledCount(n int) Option {
	return func(w *Worker) { w.config.MaxStalledCount = n }
}

// WithDrainDelay sets the longest idle block on the marker key.
func WithDrainDelay(d time.Duration) Option {
	return func(w *Worker) { w.config.DrainDelay = d }
}

// WithShutdownTimeout sets the default graceful shutdown bound.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Worker) { w.config.ShutdownTimeout = d }
}

// WithLimiter sets the queue-wide rate limit: at most n jobs per d.
func WithLimiter(n int, d time.Duration) Option {
	return func(w *Worker) { w.config.Limiter = &Limiter{Max: n, Duration: d} }
}

// WithLocalRateLimit caps how fast this worker claims jobs, independent
// of other workers.
func WithLocalRateLimit(r rate.Limit, burst int) Option {
	return func(w *Worker) { w.local = rate.NewLimiter(r, burst) }
}

// WithRemoveOnComplete sets the default retention of completed jobs.
func WithRemoveOnComplete(k *job.KeepJobs) Option {
	return func(w *Worker) { w.config.RemoveOnComplete = k }
}

// WithRemoveOnFail sets the default retention of failed jobs.
func WithRemoveOnFail(k *job.KeepJobs) Option {
	return func(w *Worker) { w.config.RemoveOnFail = k }
}

// WithAutorun starts the worker as soon as it is created.
func WithAutorun() Option {
	return func(w *Worker) { w.config.Autorun = true }
}

// WithBackoffStrategy registers a custom backoff strategy under name.
// Jobs select it with backoff.Policy{Type: name}.
func WithBackoffStrategy(name string, fn backoff.Func) Option {
	return func(w *Worker) {
		if w.backoffs == nil {
			w.backoffs = make(map[string]backoff.Func)
		}
		w.backoffs[name] = fn
	}
}

// WithMiddleware appends processing middleware. The first is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mws = append(w.mws, mws...) }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Worker) { w.extensions = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}
