package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Type names a queue event as written to the events stream.
type Type string

// Event types emitted by the queue scripts.
const (
	Added            Type = "added"
	Waiting          Type = "waiting"
	WaitingChildren  Type = "waiting-children"
	Delayed          Type = "delayed"
	Active           Type = "active"
	Progress         Type = "progress"
	Completed        Type = "completed"
	Failed           Type = "failed"
	RetriesExhausted Type = "retries-exhausted"
	Stalled          Type = "stalled"
	Removed          Type = "removed"
	Duplicated       Type = "duplicated"
	Deduplicated     Type = "deduplicated"
	Drained          Type = "drained"
	Cleaned          Type = "cleaned"
	Paused           Type = "paused"
	Resumed          Type = "resumed"
)

// Event is one entry of a queue's events stream.
type Event struct {
	// ID is the stream entry id. Its millisecond part is the time the
	// event was written.
	ID    string `json:"id"`
	Type  Type   `json:"event"`
	Queue string `json:"queue"`
	JobID string `json:"jobId,omitempty"`
	// Prev is the container the job left, when the event reports a move.
	Prev string `json:"prev,omitempty"`

	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	// Data carries the progress payload of Progress events.
	Data json.RawMessage `json:"data,omitempty"`
	// Delay is the absolute time a Delayed job becomes claimable.
	Delay time.Time `json:"delay,omitzero"`
	// Count is the number of jobs removed by a Cleaned event.
	Count int64 `json:"count,omitempty"`

	// Fields holds every raw field of the entry.
	Fields map[string]string `json:"-"`
}

// Time returns the time encoded in the entry id.
func (e Event) Time() time.Time {
	ms, _, _ := strings.Cut(e.ID, "-")
	n, _ := strconv.ParseInt(ms, 10, 64) //nolint:errcheck // stream ids are generated by Redis
	return time.UnixMilli(n)
}

// FromMessage decodes a stream entry.
func FromMessage(queue string, msg goredis.XMessage) Event {
	e := Event{
		ID:     msg.ID,
		Queue:  queue,
		Fields: make(map[string]string, len(msg.Values)),
	}
	for k, v := range msg.Values {
		s, _ := v.(string) //nolint:errcheck // stream values are always strings
		e.Fields[k] = s
	}

	e.Type = Type(e.Fields["event"])
	e.JobID = e.Fields["jobId"]
	e.Prev = e.Fields["prev"]
	e.FailedReason = e.Fields["failedReason"]
	if v, ok := e.Fields["returnvalue"]; ok {
		e.ReturnValue = json.RawMessage(v)
	}
	if v, ok := e.Fields["data"]; ok {
		e.Data = json.RawMessage(v)
	}
	if v, ok := e.Fields["delay"]; ok {
		ms, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
		e.Delay = time.UnixMilli(ms)
	}
	if v, ok := e.Fields["count"]; ok {
		e.Count, _ = strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return e
}
