package job

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/backoff"
	"github.com/xraph/strand/keys"
)

// MaxPriority is the largest priority value. Scores stay exact in a
// float64 up to priority * 2^32.
const MaxPriority = 1 << 21

// Options configures one job. Field tags carry the compact wire names the
// scripts read; OptionAliases lists the ones that differ from the Go name.
type Options struct {
	// Delay in milliseconds before the job becomes claimable.
	Delay int64 `json:"delay,omitempty" msgpack:"delay,omitempty"`

	// Priority orders waiting jobs, 1 first. Zero disables priority.
	Priority int `json:"priority,omitempty" msgpack:"priority,omitempty"`

	// Attempts is the total number of tries before the job fails for good.
	Attempts int `json:"attempts,omitempty" msgpack:"attempts,omitempty"`

	// Backoff computes the delay between attempts.
	Backoff *backoff.Policy `json:"backoff,omitempty" msgpack:"backoff,omitempty"`

	// LIFO puts the job at the head of wait instead of the tail.
	LIFO bool `json:"lifo,omitempty" msgpack:"lifo,omitempty"`

	// JobID overrides the generated id.
	JobID string `json:"jobId,omitempty" msgpack:"jobId,omitempty"`

	// Timestamp of creation in milliseconds. Defaults to now.
	Timestamp int64 `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`

	RemoveOnComplete *KeepJobs `json:"removeOnComplete,omitempty" msgpack:"removeOnComplete,omitempty"`
	RemoveOnFail     *KeepJobs `json:"removeOnFail,omitempty" msgpack:"removeOnFail,omitempty"`

	// StackTraceLimit caps the stored stack trace history.
	StackTraceLimit int `json:"stackTraceLimit,omitempty" msgpack:"stackTraceLimit,omitempty"`

	// Parent links the job as a child of another job. It is sent to the
	// scripts as arguments, never inside the option bag.
	Parent *ParentRef `json:"parent,omitempty" msgpack:"-"`

	Deduplication *Deduplication `json:"de,omitempty" msgpack:"de,omitempty"`

	// Child failure propagation, at most one may be set.
	FailParentOnFailure       bool `json:"fpof,omitempty" msgpack:"fpof,omitempty"`
	ContinueParentOnFailure   bool `json:"cpof,omitempty" msgpack:"cpof,omitempty"`
	IgnoreDependencyOnFailure bool `json:"idof,omitempty" msgpack:"idof,omitempty"`
	RemoveDependencyOnFailure bool `json:"rdof,omitempty" msgpack:"rdof,omitempty"`

	// RepeatJobKey is set on runs produced by a job scheduler.
	RepeatJobKey string `json:"rjk,omitempty" msgpack:"rjk,omitempty"`

	// KeepLogs caps the number of log lines kept for the job.
	KeepLogs int `json:"kl,omitempty" msgpack:"kl,omitempty"`

	// SizeLimit rejects payloads larger than this many bytes.
	SizeLimit int `json:"sizeLimit,omitempty" msgpack:"sizeLimit,omitempty"`
}

// KeepJobs bounds how many finished jobs are retained. A nil Count keeps
// any number; zero removes the job as soon as it finishes.
type KeepJobs struct {
	Count *int `json:"count,omitempty" msgpack:"count,omitempty"`
	// Age in seconds.
	Age int64 `json:"age,omitempty" msgpack:"age,omitempty"`
}

// KeepNone removes jobs as soon as they finish.
func KeepNone() *KeepJobs {
	n := 0
	return &KeepJobs{Count: &n}
}

// KeepLast keeps the n most recently finished jobs.
func KeepLast(n int) *KeepJobs { return &KeepJobs{Count: &n} }

// KeepFor keeps finished jobs for d.
func KeepFor(d time.Duration) *KeepJobs { return &KeepJobs{Age: int64(d / time.Second)} }

// Deduplication drops adds while a job with the same id is pending.
type Deduplication struct {
	ID string `json:"id" msgpack:"id"`
	// TTL in milliseconds. Zero holds the id until the owner finishes.
	TTL int64 `json:"ttl,omitempty" msgpack:"ttl,omitempty"`
	// Extend pushes the ttl forward on every duplicate.
	Extend bool `json:"extend,omitempty" msgpack:"extend,omitempty"`
	// Replace swaps the pending owner for the new job while it is delayed.
	Replace bool `json:"replace,omitempty" msgpack:"replace,omitempty"`
}

// Alias maps an option's descriptive name to its stored name.
type Alias struct {
	Long  string
	Short string
}

// OptionAliases are the options whose stored name is abbreviated.
var OptionAliases = []Alias{
	{Long: "deduplication", Short: "de"},
	{Long: "failParentOnFailure", Short: "fpof"},
	{Long: "continueParentOnFailure", Short: "cpof"},
	{Long: "ignoreDependencyOnFailure", Short: "idof"},
	{Long: "removeDependencyOnFailure", Short: "rdof"},
	{Long: "repeatJobKey", Short: "rjk"},
	{Long: "keepLogs", Short: "kl"},
}

// ShortName returns the stored name of an option.
func ShortName(long string) string {
	for _, a := range OptionAliases {
		if a.Long == long {
			return a.Short
		}
	}
	return long
}

// LongName returns the descriptive name of a stored option.
func LongName(short string) string {
	for _, a := range OptionAliases {
		if a.Short == short {
			return a.Long
		}
	}
	return short
}

// Option mutates Options.
type Option func(*Options)

// WithDelay delays the job by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d.Milliseconds() }
}

// WithPriority sets the priority, 1 being the highest.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(p backoff.Policy) Option {
	return func(o *Options) { o.Backoff = &p }
}

// WithJobID sets a custom job id.
func WithJobID(jobID string) Option {
	return func(o *Options) { o.JobID = jobID }
}

// WithLIFO adds the job to the head of the queue.
func WithLIFO() Option {
	return func(o *Options) { o.LIFO = true }
}

// WithParent makes the job a child of parent.
func WithParent(parent ParentRef) Option {
	return func(o *Options) { o.Parent = &parent }
}

// WithDeduplication drops the add while a job with the same id is pending.
func WithDeduplication(d Deduplication) Option {
	return func(o *Options) { o.Deduplication = &d }
}

// WithRemoveOnComplete sets the retention of completed jobs.
func WithRemoveOnComplete(k *KeepJobs) Option {
	return func(o *Options) { o.RemoveOnComplete = k }
}

// WithRemoveOnFail sets the retention of failed jobs.
func WithRemoveOnFail(k *KeepJobs) Option {
	return func(o *Options) { o.RemoveOnFail = k }
}

// Apply returns a copy of o with opts applied.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Merge fills the zero fields of o from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Attempts == 0 {
		o.Attempts = defaults.Attempts
	}
	if o.Backoff == nil {
		o.Backoff = defaults.Backoff
	}
	if o.RemoveOnComplete == nil {
		o.RemoveOnComplete = defaults.RemoveOnComplete
	}
	if o.RemoveOnFail == nil {
		o.RemoveOnFail = defaults.RemoveOnFail
	}
	if o.StackTraceLimit == 0 {
		o.StackTraceLimit = defaults.StackTraceLimit
	}
	if o.KeepLogs == 0 {
		o.KeepLogs = defaults.KeepLogs
	}
	if o.SizeLimit == 0 {
		o.SizeLimit = defaults.SizeLimit
	}
	return o
}

// ── Validation ──

// Validate checks the option invariants.
func (o Options) Validate() error {
	if o.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0", strand.ErrInvalidOptions)
	}
	if o.Priority < 0 || o.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between 0 and %d", strand.ErrInvalidOptions, MaxPriority)
	}
	if o.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0", strand.ErrInvalidOptions)
	}
	if o.Deduplication != nil && o.Deduplication.ID == "" {
		return fmt.Errorf("%w: deduplication id is required", strand.ErrInvalidOptions)
	}

	flags := 0
	for _, set := range []bool{
		o.FailParentOnFailure, o.ContinueParentOnFailure,
		o.IgnoreDependencyOnFailure, o.RemoveDependencyOnFailure,
	} {
		if set {
			flags++
		}
	}
	if flags > 1 {
		return fmt.Errorf("%w: fpof, cpof, idof and rdof are mutually exclusive", strand.ErrInvalidOptions)
	}

	if o.JobID != "" && !strings.HasPrefix(o.JobID, "repeat:") {
		if err := ValidateID(o.JobID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateID rejects ids that would be confused with generated ids, role
// keys or the key separator.
func ValidateID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: empty", strand.ErrInvalidJobID)
	}
	if _, err := strconv.ParseInt(jobID, 10, 64); err == nil {
		return fmt.Errorf("%w: %q is numeric", strand.ErrInvalidJobID, jobID)
	}
	if strings.Contains(jobID, ":") {
		return fmt.Errorf("%w: %q contains ':'", strand.ErrInvalidJobID, jobID)
	}
	if keys.IsRole(jobID) {
		return fmt.Errorf("%w: %q is a reserved key name", strand.ErrInvalidJobID, jobID)
	}
	return nil
}
