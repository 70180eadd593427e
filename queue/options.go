package queue

import (
	"log/slog"

	"github.com/xraph/strand"
	"github.com/xraph/strand/ext"
	"github.com/xraph/strand/job"
)

// Config configures a Queue.
type Config struct {
	// Prefix namespaces every key. It must not contain ':'.
	Prefix string

	// MaxLenEvents is the approximate length of the event stream.
	MaxLenEvents int64

	// DefaultJobOptions fill the unset options of every added job.
	DefaultJobOptions job.Options

	// SkipVersionCheck disables the server version check on first use.
	SkipVersionCheck bool
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	root := strand.DefaultConfig()
	return Config{
		Prefix:       root.Prefix,
		MaxLenEvents: root.MaxLenEvents,
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.config.Prefix = prefix }
}

// WithMaxLenEvents sets the approximate event stream length.
func WithMaxLenEvents(n int64) Option {
	return func(q *Queue) { q.config.MaxLenEvents = n }
}

// WithDefaultJobOptions sets options merged into every added job.
func WithDefaultJobOptions(opts job.Options) Option {
	return func(q *Queue) { q.config.DefaultJobOptions = opts }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.config = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithSkipVersionCheck disables the server version check.
func WithSkipVersionCheck() Option {
	return func(q *Queue) { q.config.SkipVersionCheck = true }
}

// WithExtensions sets the registry notified of added jobs.
func WithExtensions(r *ext.Registry) Option {
	return func(q *Queue) { q.extensions = r }
}
