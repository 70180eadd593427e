// Package job defines the job entity as it is stored in Redis, its
// options, the score encodings shared with the scripts, and a registry of
// named handlers.
//
// # Job Hash
//
// Every job lives in a hash at prefix:queue:id. [FromHash] rebuilds a
// [Job] from that hash. Counters use compact field names (atm, ats, stc)
// and timestamps are unix milliseconds.
//
// # Options
//
// [Options] travel to the scripts as a msgpack bag and are stored as JSON.
// Some options are stored under abbreviated names listed in
// [OptionAliases]. Build them with functional options:
//
//	opts := job.Options{}.Apply(
//	    job.WithAttempts(3),
//	    job.WithBackoff(backoff.Policy{Type: backoff.TypeExponential, Delay: 1000}),
//	    job.WithRemoveOnComplete(job.KeepLast(100)),
//	)
//
// # Handlers
//
// [Definition] binds a name to a typed handler. The payload is decoded
// from the job's JSON data before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, in EmailInput, j *job.Job) (any, error) {
//	        return nil, mailer.Send(in.To, in.Subject, in.Body)
//	    },
//	)
//
//	job.RegisterDefinition(registry, SendEmail)
//
// A worker built with [Registry.Process] dispatches on the job name.
package job
