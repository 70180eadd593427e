package ext

import (
	"context"
	"time"

	"github.com/xraph/strand/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobAdded is called after a queue accepted a job.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claimed a job and begins processing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job moved to completed.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job moved to failed for good.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed attempt is retried. nextRunAt is
// when the job becomes claimable again.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// ──────────────────────────────────────────────────
// Worker hooks
// ──────────────────────────────────────────────────

// JobStalled is called for every job the stalled sweep recovered. failed
// is true when the job exceeded the stall limit and moved to failed.
type JobStalled interface {
	OnJobStalled(ctx context.Context, queue, jobID string, failed bool) error
}

// LockRenewalFailed is called with the jobs whose lock a worker lost.
type LockRenewalFailed interface {
	OnLockRenewalFailed(ctx context.Context, queue string, jobIDs []string) error
}

// SchedulerFired is called when a worker materialised the next run of a
// job scheduler.
type SchedulerFired interface {
	OnSchedulerFired(ctx context.Context, schedulerID, jobID string) error
}

// QueueDrained is called when a worker found no job to claim.
type QueueDrained interface {
	OnQueueDrained(ctx context.Context, queue string) error
}

// Shutdown is called when a worker has stopped.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
