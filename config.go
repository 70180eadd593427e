package strand

import "time"

// MinRedisVersion is the oldest server the scripts run on (LPOS, ZADD GT
// semantics and RESP3-safe replies).
const MinRedisVersion = "6.2.0"

// Config holds the settings shared by queues and workers.
type Config struct {
	// Prefix namespaces every key. It must not contain ':'.
	Prefix string

	// MaxLenEvents is the approximate length the event stream is trimmed to.
	MaxLenEvents int64

	// Concurrency is the number of jobs a worker processes at once.
	Concurrency int

	// LockDuration is the ttl of a job lock. Locks are renewed every
	// LockDuration/2 while the job runs.
	LockDuration time.Duration

	// StalledInterval is how often the stalled sweep runs.
	StalledInterval time.Duration

	// MaxStalledCount is how many times a job may stall before it is failed.
	MaxStalledCount int

	// DrainDelay is the longest an idle worker blocks on the marker key.
	DrainDelay time.Duration

	// ShutdownTimeout is the maximum time to wait for active jobs on close.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:          "strand",
		MaxLenEvents:    10000,
		Concurrency:     1,
		LockDuration:    30 * time.Second,
		StalledInterval: 30 * time.Second,
		MaxStalledCount: 1,
		DrainDelay:      5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
