// Package ext defines the extension system for strand workers and queues.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing audit logs. Each lifecycle hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobAdded]: a queue accepted the job
//   - [JobStarted]: a worker claimed the job
//   - [JobCompleted]: the job moved to completed
//   - [JobFailed]: the job moved to failed with no attempts left
//   - [JobRetrying]: a failed attempt will be retried
//
// # Worker Hooks
//
//   - [JobStalled]: the stalled sweep recovered or failed a job
//   - [LockRenewalFailed]: a worker lost the lock of in-flight jobs
//   - [SchedulerFired]: the next run of a job scheduler was added
//   - [QueueDrained]: a worker found nothing to claim
//   - [Shutdown]: a worker stopped
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
