// Package strand provides a persistent, distributed job queue on Redis.
//
// Producers add jobs to named queues; workers on any number of machines
// claim and process them. Every state transition (enqueue, claim, finish,
// retry, promote, clean) runs as one Lua script, so no other client ever
// observes a job half way between two containers.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	q := queue.New("emails", client)
//	j, err := q.Add(ctx, "welcome", payload, job.WithAttempts(3))
//
//	w := worker.New("emails", client, func(ctx context.Context, j *job.Job) (any, error) {
//	    return nil, send(j.Data)
//	}, worker.WithConcurrency(10))
//	err = w.Start(ctx)
//	defer w.Stop(context.Background())
//
// # Architecture
//
// The keys package maps a (prefix, queue) pair to the Redis keys of each
// container. The store/redis package embeds the Lua procedures and turns
// their numeric status codes into [ScriptError] values. On top sit the
// queue (producer and admin surface), worker (claim loop, lock renewal and
// stalled sweep), scheduler (recurring jobs) and flow (parent/child trees)
// packages.
package strand
