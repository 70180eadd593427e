// Package queue is the producer and admin surface of one named queue.
//
// A [Queue] adds jobs and inspects or mutates the queue's Redis state.
// Every state transition runs as one atomic script through the
// store/redis package, so a Queue is safe for concurrent use and any
// number of processes may share the same queue.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	q := queue.New("email", client)
//
//	j, err := q.Add(ctx, "welcome", payload,
//	    job.WithAttempts(3),
//	    job.WithBackoff(backoff.Policy{Type: backoff.TypeExponential, Delay: 1000}),
//	)
//
// # Queue-wide limits
//
// Global concurrency and the global rate limit are stored in the queue's
// meta hash and apply to every worker:
//
//	q.SetGlobalConcurrency(ctx, 10)
//	q.SetGlobalRateLimit(ctx, 100, time.Minute)
//
// # Job schedulers
//
// UpsertJobScheduler and its siblings delegate to the scheduler package.
//
// On first use a Queue checks that the server runs Redis 6.2.0 or newer
// and loads the scripts.
package queue
