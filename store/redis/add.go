package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
)

// AddJobArgs describes a job to insert.
type AddJobArgs struct {
	Name string
	// Data is the JSON payload. Nil stores "{}".
	Data json.RawMessage
	Opts job.Options
	// WaitChildren inserts the job blocked in waiting-children. Flows use
	// it for parents whose children are added in the same transaction.
	WaitChildren bool
}

// AddJobCall builds the add script invocation for args, choosing the
// script by the job's initial container.
func AddJobCall(ns keys.Namespace, args AddJobArgs, now time.Time) (Call, error) {
	ts := args.Opts.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}

	var parentKey, parentDeps, parentJSON string
	if p := args.Opts.Parent; p != nil {
		parentKey = p.Key()
		parentDeps = parentKey + ":dependencies"
		b, err := json.Marshal(p)
		if err != nil {
			return Call{}, fmt.Errorf("strand/redis: add job: encode parent: %w", err)
		}
		parentJSON = string(b)
	}
	var dedupKey string
	if d := args.Opts.Deduplication; d != nil {
		dedupKey = ns.DedupKey(d.ID)
	}

	packedArgs, err := msgpack.Marshal([]any{
		ns.Base(),
		args.Opts.JobID,
		args.Name,
		ts,
		parentKey,
		parentDeps,
		parentJSON,
		args.Opts.RepeatJobKey,
		dedupKey,
	})
	if err != nil {
		return Call{}, fmt.Errorf("strand/redis: add job: pack args: %w", err)
	}
	opts := args.Opts
	opts.Timestamp = ts
	packedOpts, err := msgpack.Marshal(opts)
	if err != nil {
		return Call{}, fmt.Errorf("strand/redis: add job: pack opts: %w", err)
	}

	data := string(args.Data)
	if data == "" {
		data = "{}"
	}
	argv := []any{packedArgs, data, packedOpts}
	c := Call{Args: argv, JobID: args.Opts.JobID}

	switch {
	case args.WaitChildren:
		c.Name = ScriptAddParentJob
		c.Keys = []string{
			ns.Key(keys.Meta), ns.Key(keys.ID), ns.Key(keys.Delayed),
			ns.Key(keys.WaitingChildren), ns.Key(keys.Completed), ns.Key(keys.Events),
		}
	case args.Opts.Delay > 0:
		c.Name = ScriptAddDelayedJob
		c.Keys = []string{
			ns.Key(keys.Marker), ns.Key(keys.Meta), ns.Key(keys.ID), ns.Key(keys.Delayed),
			ns.Key(keys.Completed), ns.Key(keys.Active), ns.Key(keys.Events),
		}
	case args.Opts.Priority > 0:
		c.Name = ScriptAddPrioritizedJob
		c.Keys = []string{
			ns.Key(keys.Marker), ns.Key(keys.Meta), ns.Key(keys.ID), ns.Key(keys.Prioritized),
			ns.Key(keys.Delayed), ns.Key(keys.Completed), ns.Key(keys.Active),
			ns.Key(keys.Events), ns.Key(keys.PriorityCounter),
		}
	default:
		c.Name = ScriptAddStandardJob
		c.Keys = []string{
			ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Key(keys.Meta), ns.Key(keys.ID),
			ns.Key(keys.Completed), ns.Key(keys.Delayed), ns.Key(keys.Active),
			ns.Key(keys.Events), ns.Key(keys.Marker),
		}
	}
	return c, nil
}

// AddJob inserts a job and returns its id. Adding an id that already
// exists is a no-op returning that id. A deduplicated add returns the id
// of the job that owns the deduplication id.
func (s *Store) AddJob(ctx context.Context, ns keys.Namespace, args AddJobArgs) (string, error) {
	c, err := AddJobCall(ns, args, time.Now())
	if err != nil {
		return "", err
	}
	v, err := s.Run(ctx, c)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}
