// Package worker claims jobs from a queue and runs them through a handler.
//
// A Worker runs Concurrency claim loops. Each loop claims a job with the
// moveToActive script, runs the handler under the middleware chain and
// settles the outcome. Completing or failing a job fetches the next one in
// the same round trip. While jobs run, a lock manager renews their locks
// and a stalled sweep recovers jobs whose worker died.
//
//	w := worker.New("emails", client, func(ctx context.Context, j *job.Job) (any, error) {
//		var in Email
//		if err := j.Decode(&in); err != nil {
//			return nil, strand.Unrecoverable(err)
//		}
//		return nil, send(ctx, in)
//	}, worker.WithConcurrency(8))
//
//	go w.Run(ctx)
//	defer w.Stop(context.Background())
//
// Handler errors decide what happens next:
//
//   - nil completes the job and stores the returned value.
//   - strand.Unrecoverable fails the job without retrying.
//   - strand.RateLimit requeues the job and rate limits the queue.
//   - strand.ErrWaitingChildren parks the job until its children finish.
//   - a *strand.DelayedError means the handler already moved the job with
//     Worker.MoveToDelayed.
//   - anything else retries per the job's backoff until attempts run out.
package worker
