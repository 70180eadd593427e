package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// State names the container a job currently sits in.
type State string

const (
	// StateWaiting means the job is in wait or paused.
	StateWaiting State = "waiting"
	// StateActive means a worker holds the job's lock.
	StateActive State = "active"
	// StateDelayed means the job becomes claimable at a later time.
	StateDelayed State = "delayed"
	// StatePrioritized means the job waits in the priority set.
	StatePrioritized State = "prioritized"
	// StateWaitingChildren means the job is blocked on pending children.
	StateWaitingChildren State = "waiting-children"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed for good.
	StateFailed State = "failed"
	// StateUnknown means the job is in no container (usually removed).
	StateUnknown State = "unknown"
)

// ParentRef points at a parent job that may live in another queue.
type ParentRef struct {
	ID       string `json:"id" msgpack:"id"`
	QueueKey string `json:"queueKey" msgpack:"queueKey"`
}

// Key returns the parent's hash key.
func (p ParentRef) Key() string { return p.QueueKey + ":" + p.ID }

// Job is one unit of work as stored in its hash.
type Job struct {
	ID              string          `json:"id"`
	Queue           string          `json:"queue"`
	Name            string          `json:"name"`
	Data            json.RawMessage `json:"data"`
	Opts            Options         `json:"opts"`
	Timestamp       time.Time       `json:"timestamp"`
	Delay           time.Duration   `json:"delay,omitempty"`
	Priority        int             `json:"priority,omitempty"`
	Progress        json.RawMessage `json:"progress,omitempty"`
	AttemptsMade    int             `json:"attemptsMade"`
	AttemptsStarted int             `json:"attemptsStarted"`
	StalledCounter  int             `json:"stalledCounter,omitempty"`
	ProcessedOn     time.Time       `json:"processedOn,omitzero"`
	FinishedOn      time.Time       `json:"finishedOn,omitzero"`
	ReturnValue     json.RawMessage `json:"returnValue,omitempty"`
	FailedReason    string          `json:"failedReason,omitempty"`
	Stacktrace      []string        `json:"stacktrace,omitempty"`
	ParentKey       string          `json:"parentKey,omitempty"`
	Parent          *ParentRef      `json:"parent,omitempty"`
	RepeatJobKey    string          `json:"repeatJobKey,omitempty"`
	DeduplicationID string          `json:"deduplicationId,omitempty"`
	ProcessedBy     string          `json:"processedBy,omitempty"`

	// Token is the lock token of the worker processing the job. It only
	// lives in memory.
	Token string `json:"-"`
}

// Hash field names.
const (
	FieldName         = "name"
	FieldData         = "data"
	FieldOpts         = "opts"
	FieldTimestamp    = "timestamp"
	FieldDelay        = "delay"
	FieldPriority     = "priority"
	FieldProgress     = "progress"
	FieldAttemptsMade = "atm"
	FieldAttemptsRun  = "ats"
	FieldStalled      = "stc"
	FieldProcessedOn  = "processedOn"
	FieldFinishedOn   = "finishedOn"
	FieldReturnValue  = "returnvalue"
	FieldFailedReason = "failedReason"
	FieldStacktrace   = "stacktrace"
	FieldParentKey    = "parentKey"
	FieldParent       = "parent"
	FieldRepeatJobKey = "rjk"
	FieldDedupID      = "deid"
	FieldProcessedBy  = "pb"
)

// FromHash builds a Job from its stored hash.
func FromHash(jobID string, m map[string]string) (*Job, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("job: empty hash for %q", jobID)
	}

	j := &Job{
		ID:              jobID,
		Name:            m[FieldName],
		FailedReason:    m[FieldFailedReason],
		ParentKey:       m[FieldParentKey],
		RepeatJobKey:    m[FieldRepeatJobKey],
		DeduplicationID: m[FieldDedupID],
		ProcessedBy:     m[FieldProcessedBy],
	}

	if v := m[FieldData]; v != "" {
		j.Data = json.RawMessage(v)
	}
	if v := m[FieldOpts]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Opts); err != nil {
			return nil, fmt.Errorf("job: parse opts of %q: %w", jobID, err)
		}
	}
	if v := m[FieldParent]; v != "" {
		var p ParentRef
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("job: parse parent of %q: %w", jobID, err)
		}
		j.Parent = &p
	}
	if v := m[FieldStacktrace]; v != "" {
		_ = json.Unmarshal([]byte(v), &j.Stacktrace) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m[FieldReturnValue]; v != "" {
		j.ReturnValue = json.RawMessage(v)
	}
	if v := m[FieldProgress]; v != "" {
		j.Progress = json.RawMessage(v)
	}

	j.Timestamp = millis(m[FieldTimestamp])
	j.ProcessedOn = millis(m[FieldProcessedOn])
	j.FinishedOn = millis(m[FieldFinishedOn])
	j.Delay = time.Duration(atoi64(m[FieldDelay])) * time.Millisecond
	j.Priority = int(atoi64(m[FieldPriority]))
	j.AttemptsMade = int(atoi64(m[FieldAttemptsMade]))
	j.AttemptsStarted = int(atoi64(m[FieldAttemptsRun]))
	j.StalledCounter = int(atoi64(m[FieldStalled]))

	return j, nil
}

// FromFlatHash builds a Job from an HGETALL reply returned inside a script
// result, a flat field/value list.
func FromFlatHash(jobID string, flat []any) (*Job, error) {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)   //nolint:errcheck // HGETALL replies are strings
		v, _ := flat[i+1].(string) //nolint:errcheck // HGETALL replies are strings
		m[k] = v
	}
	return FromHash(jobID, m)
}

// IsSchedulerRun reports whether the job was produced by a job scheduler.
func (j *Job) IsSchedulerRun() bool { return j.RepeatJobKey != "" }

// AttemptsAllowed is the total number of attempts the job may make.
func (j *Job) AttemptsAllowed() int {
	if j.Opts.Attempts < 1 {
		return 1
	}
	return j.Opts.Attempts
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return nil
	}
	return json.Unmarshal(j.Data, v)
}

func millis(s string) time.Time {
	n := atoi64(s)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func atoi64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Lua may hand back numbers in float notation.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}
