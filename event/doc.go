// Package event tails the events stream of a queue.
//
// Every state change the queue scripts make is appended to the
// "<prefix>:<queue>:events" stream, trimmed to about MaxLenEvents entries.
// A Reader follows the stream with XREAD BLOCK and delivers decoded
// Event values to subscribers:
//
//	r := event.NewReader(client, "emails")
//	go r.Run(ctx)
//
//	failed, cancel := r.Subscribe(event.Filter{Types: []event.Type{event.Failed}})
//	defer cancel()
//	for e := range failed {
//		log.Printf("job %s failed: %s", e.JobID, e.FailedReason)
//	}
//
// WaitUntilFinished builds on the same subscription to wait for a single
// job's outcome.
package event
