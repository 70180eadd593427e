package job

import "time"

// Score encodings shared with the Lua scripts.
//
//	delayed:     dueMillis * 4096 + sequence       (sequence < 4096)
//	prioritized: priority * 2^32 + counter mod 2^32
//
// Both stay below 2^53 for realistic timestamps and priorities up to
// MaxPriority, so they round-trip exactly through a sorted set score.
const (
	delayedSlots  = 0x1000
	priorityShift = 0x100000000
)

// DelayedScore returns the score of a job due at due, the seq-th one
// delayed to that millisecond. Sequences past the bucket share its last slot.
func DelayedScore(due time.Time, seq int) int64 {
	if seq >= delayedSlots {
		seq = delayedSlots - 1
	}
	if seq < 0 {
		seq = 0
	}
	return due.UnixMilli()*delayedSlots + int64(seq)
}

// DueTime decodes the due time of a delayed score.
func DueTime(score int64) time.Time { return time.UnixMilli(score / delayedSlots) }

// PriorityScore returns the score of a prioritized job given the value of
// the queue's priority counter when it was inserted.
func PriorityScore(priority int, counter int64) int64 {
	return int64(priority)*priorityShift + counter%priorityShift
}
