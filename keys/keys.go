// Package keys maps a queue to the Redis keys that hold its state.
//
// Every key is "prefix:queue:suffix". Container roles and job ids share the
// suffix space, so job ids that equal a role name are rejected by
// job validation.
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Role names a per-queue container or bookkeeping key.
type Role string

// Container and bookkeeping roles.
const (
	Wait            Role = "wait"
	Paused          Role = "paused"
	Meta            Role = "meta"
	ID              Role = "id"
	Delayed         Role = "delayed"
	Prioritized     Role = "prioritized"
	PriorityCounter Role = "pc"
	Marker          Role = "marker"
	Active          Role = "active"
	Completed       Role = "completed"
	Failed          Role = "failed"
	Stalled         Role = "stalled"
	StalledCheck    Role = "stalled-check"
	Limiter         Role = "limiter"
	WaitingChildren Role = "waiting-children"
	Events          Role = "events"
	Repeat          Role = "repeat"
	Dedup           Role = "de"
)

// Roles lists every role in a stable order.
var Roles = []Role{
	Wait, Paused, Meta, ID, Delayed, Prioritized, PriorityCounter, Marker,
	Active, Completed, Failed, Stalled, StalledCheck, Limiter,
	WaitingChildren, Events, Repeat, Dedup,
}

// IsRole reports whether s is a reserved role name.
func IsRole(s string) bool {
	for _, r := range Roles {
		if string(r) == s {
			return true
		}
	}
	return false
}

// ErrInvalidKey is returned when a string is not a job key.
var ErrInvalidKey = errors.New("keys: invalid job key")

// Namespace resolves keys for one queue.
type Namespace struct {
	prefix string
	queue  string
	base   string
}

// New returns the namespace of queue under prefix.
func New(prefix, queue string) Namespace {
	return Namespace{prefix: prefix, queue: queue, base: prefix + ":" + queue + ":"}
}

// FromQueueKey builds a namespace from "prefix:queue", the form stored in
// parent references.
func FromQueueKey(queueKey string) (Namespace, error) {
	prefix, queue, ok := strings.Cut(queueKey, ":")
	if !ok || prefix == "" || queue == "" {
		return Namespace{}, fmt.Errorf("%w: queue key %q", ErrInvalidKey, queueKey)
	}
	return New(prefix, queue), nil
}

// Prefix returns the key prefix.
func (n Namespace) Prefix() string { return n.prefix }

// Queue returns the queue name.
func (n Namespace) Queue() string { return n.queue }

// QueueKey returns "prefix:queue".
func (n Namespace) QueueKey() string { return n.prefix + ":" + n.queue }

// Base returns "prefix:queue:", the prefix of every key in the queue.
func (n Namespace) Base() string { return n.base }

// Key returns the key of a role.
func (n Namespace) Key(r Role) string { return n.base + string(r) }

// ── Job keys ──

// Job returns the hash key of a job.
func (n Namespace) Job(id string) string { return n.base + id }

// Lock returns the lock key of a job.
func (n Namespace) Lock(id string) string { return n.Job(id) + ":lock" }

// Logs returns the log list key of a job.
func (n Namespace) Logs(id string) string { return n.Job(id) + ":logs" }

// Dependencies returns the set of a parent's pending child keys.
func (n Namespace) Dependencies(id string) string { return n.Job(id) + ":dependencies" }

// Processed returns the hash of a parent's completed child results.
func (n Namespace) Processed(id string) string { return n.Job(id) + ":processed" }

// Failed returns the hash of a parent's ignored failed children.
func (n Namespace) Failed(id string) string { return n.Job(id) + ":failed" }

// Unsuccessful returns the sorted set of a parent's failed children.
func (n Namespace) Unsuccessful(id string) string { return n.Job(id) + ":unsuccessful" }

// DedupKey returns the deduplication index key for a deduplication id.
func (n Namespace) DedupKey(dedupID string) string { return n.base + string(Dedup) + ":" + dedupID }

// Scheduler returns the hash key holding a job scheduler definition.
func (n Namespace) Scheduler(schedulerID string) string {
	return n.Key(Repeat) + ":" + schedulerID
}

// ── Job references ──

// JobRef addresses a job in any queue.
type JobRef struct {
	Namespace Namespace
	ID        string
}

// Key returns the job's hash key.
func (r JobRef) Key() string { return r.Namespace.Job(r.ID) }

// Ref returns a reference to a job of this queue.
func (n Namespace) Ref(id string) JobRef { return JobRef{Namespace: n, ID: id} }

// ParseJobKey splits "prefix:queue:id". The id may itself contain ':'
// (job scheduler runs), so the split happens at the second separator.
func ParseJobKey(key string) (JobRef, error) {
	prefix, rest, ok := strings.Cut(key, ":")
	if !ok || prefix == "" {
		return JobRef{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	queue, id, ok := strings.Cut(rest, ":")
	if !ok || queue == "" || id == "" {
		return JobRef{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return JobRef{Namespace: New(prefix, queue), ID: id}, nil
}
