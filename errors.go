package strand

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// Store errors.
	ErrNoClient           = errors.New("strand: no redis client configured")
	ErrUnsupportedVersion = errors.New("strand: unsupported redis version")
	ErrUnknownScript      = errors.New("strand: unknown script")

	// Precondition errors returned by the atomic scripts.
	ErrJobNotFound        = errors.New("strand: job not found")
	ErrLockNotFound       = errors.New("strand: job lock not found")
	ErrJobNotInState      = errors.New("strand: job not in expected state")
	ErrPendingChildren    = errors.New("strand: job has pending children")
	ErrParentNotFound     = errors.New("strand: parent job not found")
	ErrLockMismatch       = errors.New("strand: job lock held by another token")
	ErrParentReplace      = errors.New("strand: job already belongs to another parent")
	ErrBelongsToScheduler = errors.New("strand: job belongs to a job scheduler")
	ErrFailedChildren     = errors.New("strand: job has failed children")
	ErrSchedulerCollision = errors.New("strand: job scheduler run id already taken")
	ErrSchedulerSlotsBusy = errors.New("strand: job scheduler slots busy")

	// Queue errors.
	ErrQueueNotPaused    = errors.New("strand: queue must be paused")
	ErrQueueHasActive    = errors.New("strand: queue has active jobs")
	ErrSchedulerNotFound = errors.New("strand: job scheduler not found")

	// Validation errors.
	ErrInvalidJobID      = errors.New("strand: invalid job id")
	ErrInvalidOptions    = errors.New("strand: invalid job options")
	ErrInvalidSchedule   = errors.New("strand: invalid schedule")
	ErrScheduleExhausted = errors.New("strand: schedule produces no further runs")

	// Worker errors.
	ErrWorkerClosed    = errors.New("strand: worker closed")
	ErrLockLost        = errors.New("strand: job lock lost")
	ErrNoHandler       = errors.New("strand: no processor configured")
	ErrJobFailed       = errors.New("strand: job failed")
	ErrWaitTimedOut    = errors.New("strand: wait until finished timed out")
	ErrWaitingChildren = errors.New("strand: job moved to waiting-children")

	// Event errors.
	ErrReaderClosed = errors.New("strand: event reader closed")
)

// ErrorCode is a negative status returned by an atomic script. The numeric
// values are a wire contract shared with existing deployments.
type ErrorCode int64

// Script status codes.
const (
	CodeJobNotFound        ErrorCode = -1
	CodeLockNotFound       ErrorCode = -2
	CodeJobNotInState      ErrorCode = -3
	CodePendingChildren    ErrorCode = -4
	CodeParentNotFound     ErrorCode = -5
	CodeLockMismatch       ErrorCode = -6
	CodeParentReplace      ErrorCode = -7
	CodeBelongsToScheduler ErrorCode = -8
	CodeFailedChildren     ErrorCode = -9
	CodeSchedulerCollision ErrorCode = -10
	CodeSchedulerSlotsBusy ErrorCode = -11
)

var codeErrors = map[ErrorCode]error{
	CodeJobNotFound:        ErrJobNotFound,
	CodeLockNotFound:       ErrLockNotFound,
	CodeJobNotInState:      ErrJobNotInState,
	CodePendingChildren:    ErrPendingChildren,
	CodeParentNotFound:     ErrParentNotFound,
	CodeLockMismatch:       ErrLockMismatch,
	CodeParentReplace:      ErrParentReplace,
	CodeBelongsToScheduler: ErrBelongsToScheduler,
	CodeFailedChildren:     ErrFailedChildren,
	CodeSchedulerCollision: ErrSchedulerCollision,
	CodeSchedulerSlotsBusy: ErrSchedulerSlotsBusy,
}

// Sentinel returns the sentinel error for the code, or nil for codes the
// scripts never produce.
func (c ErrorCode) Sentinel() error { return codeErrors[c] }

// ScriptError reports a precondition failure detected inside an atomic
// script. It unwraps to the matching sentinel so callers use errors.Is.
type ScriptError struct {
	Code   ErrorCode
	Script string
	JobID  string
}

// Error implements error.
func (e *ScriptError) Error() string {
	base := e.Code.Sentinel()
	msg := "unknown script status"
	if base != nil {
		msg = base.Error()
	}
	if e.JobID != "" {
		return fmt.Sprintf("%s (script %s, job %s, code %d)", msg, e.Script, e.JobID, e.Code)
	}
	return fmt.Sprintf("%s (script %s, code %d)", msg, e.Script, e.Code)
}

// Unwrap returns the sentinel for the code.
func (e *ScriptError) Unwrap() error { return e.Code.Sentinel() }

// NewScriptError builds the typed error for a negative script status.
func NewScriptError(code int64, script, jobID string) error {
	return &ScriptError{Code: ErrorCode(code), Script: script, JobID: jobID}
}

// ── Processor errors ──

// UnrecoverableError marks a processing failure that must not be retried,
// whatever attempts remain.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string { return "unrecoverable: " + e.Err.Error() }
func (e *UnrecoverableError) Unwrap() error { return e.Err }

// Unrecoverable wraps err so the worker fails the job without retrying.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable reports whether err carries an UnrecoverableError.
func IsUnrecoverable(err error) bool {
	var u *UnrecoverableError
	return errors.As(err, &u)
}

// RateLimitError is returned by a processor that hit an external rate
// limit. The worker puts the job back in wait without spending an attempt
// and pauses claiming for Delay.
type RateLimitError struct {
	Delay time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("strand: rate limited for %s", e.Delay)
}

// RateLimit returns a RateLimitError for delay.
func RateLimit(delay time.Duration) error { return &RateLimitError{Delay: delay} }

// DelayedError is returned by a processor that already moved its job to
// delayed itself, so the worker must not finish it.
type DelayedError struct{}

func (e *DelayedError) Error() string { return "strand: job moved to delayed" }

// BulkError reports the entries of a bulk insert that were rejected.
// Entries not listed in Failed were stored; a MULTI block does not roll
// back the calls that succeeded.
type BulkError struct {
	Failed map[int]error
}

func (e *BulkError) Error() string {
	idx := e.Indices()
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = fmt.Sprintf("%d: %v", n, e.Failed[n])
	}
	return fmt.Sprintf("strand: %d bulk entries rejected (%s)", len(idx), strings.Join(parts, "; "))
}

// Indices returns the rejected positions in ascending order.
func (e *BulkError) Indices() []int {
	idx := make([]int, 0, len(e.Failed))
	for n := range e.Failed {
		idx = append(idx, n)
	}
	sort.Ints(idx)
	return idx
}

// Unwrap exposes every entry error to errors.Is and errors.As.
func (e *BulkError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, n := range e.Indices() {
		out = append(out, e.Failed[n])
	}
	return out
}
