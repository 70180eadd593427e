package middleware

import (
	"errors"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
)

// Outcome classifies how an attempt ended from the worker's point of view.
type Outcome string

// Attempt outcomes.
const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeRetry           Outcome = "retry"
	OutcomeFailed          Outcome = "failed"
	OutcomeUnrecoverable   Outcome = "unrecoverable"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeWaitingChildren Outcome = "waiting_children"
	OutcomeDelayed         Outcome = "delayed"
	OutcomeLockLost        Outcome = "lock_lost"
)

// Classify maps a processor error to the outcome the worker will settle
// the job with. Retry and Failed depend on the attempts left, so the job
// must not have been settled yet.
func Classify(j *job.Job, err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}
	var (
		rl *strand.RateLimitError
		de *strand.DelayedError
	)
	switch {
	case errors.As(err, &rl):
		return OutcomeRateLimited
	case errors.As(err, &de):
		return OutcomeDelayed
	case errors.Is(err, strand.ErrWaitingChildren):
		return OutcomeWaitingChildren
	case errors.Is(err, strand.ErrLockLost):
		return OutcomeLockLost
	case strand.IsUnrecoverable(err):
		return OutcomeUnrecoverable
	case j.AttemptsMade+1 >= j.AttemptsAllowed():
		return OutcomeFailed
	default:
		return OutcomeRetry
	}
}

// Terminal reports whether the outcome moves the job to the failed set.
func (o Outcome) Terminal() bool {
	return o == OutcomeFailed || o == OutcomeUnrecoverable
}

// queueWait is how long the job sat ready before this attempt started.
func queueWait(j *job.Job) (float64, bool) {
	if j.ProcessedOn.IsZero() || j.Timestamp.IsZero() {
		return 0, false
	}
	d := j.ProcessedOn.Sub(j.Timestamp) - j.Delay
	if d < 0 {
		d = 0
	}
	return d.Seconds(), true
}
