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

// Limiter is a rate limit of Max jobs per Duration milliseconds.
type Limiter struct {
	Max      int   `msgpack:"max"`
	Duration int64 `msgpack:"duration"`
}

// ClaimOptions are the worker settings sent with every claim.
type ClaimOptions struct {
	Token        string   `msgpack:"token"`
	LockDuration int64    `msgpack:"lockDuration"`
	Limiter      *Limiter `msgpack:"limiter,omitempty"`
	// Name is recorded on the job as processedBy.
	Name string `msgpack:"name,omitempty"`
}

// Claim is the outcome of a claim attempt. Job is nil when nothing was
// claimed; RateLimited or NextDelayed then tell the worker how long to
// wait.
type Claim struct {
	Job         *job.Job
	RateLimited time.Duration
	NextDelayed time.Time
}

func parseClaim(v any) (*Claim, error) {
	reply := toSlice(v)
	if len(reply) < 4 {
		return &Claim{}, nil
	}
	c := &Claim{
		RateLimited: time.Duration(toInt64(reply[2])) * time.Millisecond,
	}
	if ts := toInt64(reply[3]); ts > 0 {
		c.NextDelayed = time.UnixMilli(ts)
	}
	if flat, ok := reply[0].([]any); ok {
		j, err := job.FromFlatHash(toString(reply[1]), flat)
		if err != nil {
			return nil, err
		}
		c.Job = j
	}
	return c, nil
}

func workerKeys(ns keys.Namespace) []string {
	return []string{
		ns.Key(keys.Wait), ns.Key(keys.Active), ns.Key(keys.Prioritized), ns.Key(keys.Events),
		ns.Key(keys.Stalled), ns.Key(keys.Limiter), ns.Key(keys.Delayed), ns.Key(keys.Paused),
		ns.Key(keys.Meta), ns.Key(keys.PriorityCounter),
	}
}

// MoveToActive claims the next job for the worker identified by the
// options' token.
func (s *Store) MoveToActive(ctx context.Context, ns keys.Namespace, opts ClaimOptions) (*Claim, error) {
	packed, err := msgpack.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("strand/redis: move to active: %w", err)
	}
	v, err := s.Run(ctx, Call{
		Name: ScriptMoveToActive,
		Keys: append(workerKeys(ns), ns.Key(keys.Marker)),
		Args: []any{ns.Base(), time.Now().UnixMilli(), packed},
	})
	if err != nil {
		return nil, err
	}
	j, err := parseClaim(v)
	if j != nil && j.Job != nil {
		j.Job.Queue = ns.Queue()
		j.Job.Token = opts.Token
	}
	return j, err
}

// FinishArgs describes the completion or terminal failure of a job.
type FinishArgs struct {
	JobID string
	// Token must own the job's lock.
	Token string
	// Failed selects the failed set; otherwise the job completes.
	Failed bool
	// Value is the JSON return value, or the failure reason.
	Value string
	// Fields are extra job hash fields written before the move.
	Fields map[string]any
	Keep   *job.KeepJobs
	// Attempts is the job's attempt budget, used for the
	// retries-exhausted event.
	Attempts int
	// FetchNext claims the next job in the same round trip, locking it
	// with Claim.Token.
	FetchNext bool
	Claim     ClaimOptions
}

type finishOpts struct {
	Token        string        `msgpack:"token"`
	NextToken    string        `msgpack:"nextToken,omitempty"`
	KeepJobs     *job.KeepJobs `msgpack:"keepJobs,omitempty"`
	LockDuration int64         `msgpack:"lockDuration"`
	Attempts     int           `msgpack:"attempts"`
	Limiter      *Limiter      `msgpack:"limiter,omitempty"`
	Name         string        `msgpack:"name,omitempty"`
}

// MoveToFinished moves an active job to completed or failed. With
// FetchNext set it returns the next claim.
func (s *Store) MoveToFinished(ctx context.Context, ns keys.Namespace, args FinishArgs) (*Claim, error) {
	prop, target := job.FieldReturnValue, keys.Completed
	if args.Failed {
		prop, target = job.FieldFailedReason, keys.Failed
	}
	packedOpts, err := msgpack.Marshal(finishOpts{
		Token:        args.Token,
		NextToken:    args.Claim.Token,
		KeepJobs:     args.Keep,
		LockDuration: args.Claim.LockDuration,
		Attempts:     args.Attempts,
		Limiter:      args.Claim.Limiter,
		Name:         args.Claim.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("strand/redis: move to finished: %w", err)
	}
	fields, err := packFields(args.Fields)
	if err != nil {
		return nil, err
	}

	v, err := s.Run(ctx, Call{
		Name: ScriptMoveToFinished,
		Keys: append(workerKeys(ns), ns.Key(target), ns.Job(args.JobID), ns.Key(keys.Marker)),
		Args: []any{
			args.JobID, time.Now().UnixMilli(), prop, args.Value, string(target),
			boolArg(args.FetchNext), ns.Base(), packedOpts, fields,
		},
		JobID: args.JobID,
	})
	if err != nil {
		return nil, err
	}
	if !args.FetchNext {
		return &Claim{}, nil
	}
	c, err := parseClaim(v)
	if c != nil && c.Job != nil {
		c.Job.Queue = ns.Queue()
		c.Job.Token = args.Claim.Token
	}
	return c, err
}

// MoveToDelayed moves an active job to delayed for delay. skipAttempt
// leaves attemptsMade unchanged.
func (s *Store) MoveToDelayed(ctx context.Context, ns keys.Namespace, jobID, token string, delay time.Duration, skipAttempt bool, fields map[string]any) error {
	packed, err := packFields(fields)
	if err != nil {
		return err
	}
	_, err = s.Run(ctx, Call{
		Name: ScriptMoveToDelayed,
		Keys: []string{
			ns.Key(keys.Marker), ns.Key(keys.Active), ns.Key(keys.Prioritized), ns.Key(keys.Delayed),
			ns.Job(jobID), ns.Key(keys.Events), ns.Key(keys.Meta), ns.Key(keys.Stalled),
		},
		Args:  []any{ns.Base(), time.Now().UnixMilli(), jobID, token, delay.Milliseconds(), boolArg(skipAttempt), packed},
		JobID: jobID,
	})
	return err
}

// RetryJob moves an active job straight back to wait and counts the
// failed attempt.
func (s *Store) RetryJob(ctx context.Context, ns keys.Namespace, jobID, token string, lifo bool, fields map[string]any) error {
	packed, err := packFields(fields)
	if err != nil {
		return err
	}
	_, err = s.Run(ctx, Call{
		Name: ScriptRetryJob,
		Keys: []string{
			ns.Key(keys.Active), ns.Key(keys.Wait), ns.Key(keys.Paused), ns.Job(jobID),
			ns.Key(keys.Meta), ns.Key(keys.Events), ns.Key(keys.Delayed), ns.Key(keys.Prioritized),
			ns.Key(keys.PriorityCounter), ns.Key(keys.Marker), ns.Key(keys.Stalled),
		},
		Args:  []any{ns.Base(), time.Now().UnixMilli(), pushCmd(lifo), jobID, token, packed},
		JobID: jobID,
	})
	return err
}

// MoveJobFromActiveToWait puts an active job back at the head of wait
// without spending an attempt. It returns the limiter ttl.
func (s *Store) MoveJobFromActiveToWait(ctx context.Context, ns keys.Namespace, jobID, token string) (time.Duration, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptMoveJobFromActiveToWait,
		Keys: []string{
			ns.Key(keys.Active), ns.Key(keys.Wait), ns.Key(keys.Stalled), ns.Key(keys.Paused),
			ns.Key(keys.Meta), ns.Key(keys.Limiter), ns.Key(keys.Prioritized), ns.Key(keys.Marker),
			ns.Key(keys.Events), ns.Job(jobID), ns.Key(keys.PriorityCounter),
		},
		Args:  []any{jobID, token},
		JobID: jobID,
	})
	if err != nil {
		return 0, err
	}
	return time.Duration(toInt64(v)) * time.Millisecond, nil
}

// MoveToWaitingChildren parks an active job until its children finish.
// It reports false when no child is pending and the job stays active.
// childKey narrows the check to one child; empty checks all.
func (s *Store) MoveToWaitingChildren(ctx context.Context, ns keys.Namespace, jobID, token, childKey string) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptMoveToWaitingChildren,
		Keys: []string{
			ns.Key(keys.Active), ns.Key(keys.WaitingChildren), ns.Job(jobID),
			ns.Key(keys.Stalled), ns.Key(keys.Events),
		},
		Args:  []any{token, childKey, time.Now().UnixMilli(), jobID},
		JobID: jobID,
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 0, nil
}

// ── Locks ──

// ExtendLock pushes the lock ttl of one job forward. It reports false
// when the lock is gone or held by another token.
func (s *Store) ExtendLock(ctx context.Context, ns keys.Namespace, jobID, token string, d time.Duration) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name:  ScriptExtendLock,
		Keys:  []string{ns.Lock(jobID), ns.Key(keys.Stalled)},
		Args:  []any{token, d.Milliseconds(), jobID},
		JobID: jobID,
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 1, nil
}

// ExtendLocks renews many locks at once and returns the ids whose lock
// could not be renewed.
func (s *Store) ExtendLocks(ctx context.Context, ns keys.Namespace, jobIDs, tokens []string, d time.Duration) ([]string, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	ids, err := msgpack.Marshal(jobIDs)
	if err != nil {
		return nil, fmt.Errorf("strand/redis: extend locks: %w", err)
	}
	toks, err := msgpack.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("strand/redis: extend locks: %w", err)
	}
	v, err := s.Run(ctx, Call{
		Name: ScriptExtendLocks,
		Keys: []string{ns.Key(keys.Stalled)},
		Args: []any{ns.Base(), ids, toks, d.Milliseconds()},
	})
	if err != nil {
		return nil, err
	}
	return toStrings(v), nil
}

// ReleaseLock deletes a lock held by token.
func (s *Store) ReleaseLock(ctx context.Context, ns keys.Namespace, jobID, token string) (bool, error) {
	v, err := s.Run(ctx, Call{
		Name:  ScriptReleaseLock,
		Keys:  []string{ns.Lock(jobID)},
		Args:  []any{token},
		JobID: jobID,
	})
	if err != nil {
		return false, err
	}
	return toInt64(v) == 1, nil
}

// StalledResult lists the jobs recovered by a stalled sweep.
type StalledResult struct {
	Failed  []string
	Stalled []string
}

// MoveStalledJobsToWait runs one stalled sweep. The stalled-check key
// makes concurrent sweeps within maxCheckTime a no-op.
func (s *Store) MoveStalledJobsToWait(ctx context.Context, ns keys.Namespace, maxStalled int, maxCheckTime time.Duration) (*StalledResult, error) {
	v, err := s.Run(ctx, Call{
		Name: ScriptMoveStalledJobsToWait,
		Keys: []string{
			ns.Key(keys.Stalled), ns.Key(keys.Wait), ns.Key(keys.Active), ns.Key(keys.StalledCheck),
			ns.Key(keys.Meta), ns.Key(keys.Paused), ns.Key(keys.Marker), ns.Key(keys.Events),
			ns.Key(keys.Prioritized), ns.Key(keys.PriorityCounter), ns.Key(keys.Failed), ns.Key(keys.Repeat),
		},
		Args: []any{maxStalled, ns.Base(), time.Now().UnixMilli(), maxCheckTime.Milliseconds()},
	})
	if err != nil {
		return nil, err
	}
	reply := toSlice(v)
	res := &StalledResult{}
	if len(reply) == 2 {
		res.Failed = toStrings(reply[0])
		res.Stalled = toStrings(reply[1])
	}
	return res, nil
}

// ── Helpers ──

func packFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	b, err := msgpack.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("strand/redis: pack fields: %w", err)
	}
	return string(b), nil
}

func pushCmd(lifo bool) string {
	if lifo {
		return "RPUSH"
	}
	return "LPUSH"
}

// FailureFields returns the hash fields written when an attempt fails.
func FailureFields(reason string, stacktrace []string) map[string]any {
	f := map[string]any{job.FieldFailedReason: reason}
	if len(stacktrace) > 0 {
		if b, err := json.Marshal(stacktrace); err == nil {
			f[job.FieldStacktrace] = string(b)
		}
	}
	return f
}
