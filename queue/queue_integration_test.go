//go:build integration

package queue_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/internal/redistest"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/queue"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return queue.New(redistest.QueueName(t), redistest.Start(t))
}

func TestQueue_AddPlacesJobsByOptions(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts []job.Option
		want job.State
	}{
		{"standard", nil, job.StateWaiting},
		{"delayed", []job.Option{job.WithDelay(time.Hour)}, job.StateDelayed},
		{"prioritized", []job.Option{job.WithPriority(3)}, job.StatePrioritized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := q.Add(ctx, tt.name, map[string]string{"k": tt.name}, tt.opts...)
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			state, err := q.GetJobState(ctx, j.ID)
			if err != nil {
				t.Fatal(err)
			}
			if state != tt.want {
				t.Errorf("state = %s, want %s", state, tt.want)
			}
			stored, err := q.GetJob(ctx, j.ID)
			if err != nil {
				t.Fatal(err)
			}
			if stored.Name != tt.name || string(stored.Data) != `{"k":"`+tt.name+`"}` {
				t.Errorf("stored = %+v", stored)
			}
		})
	}

	counts, err := q.GetJobCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[job.StateWaiting] != 1 || counts[job.StateDelayed] != 1 || counts[job.StatePrioritized] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if n, err := q.Count(ctx); err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestQueue_AddIsIdempotentForCustomIDs(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	first, err := q.Add(ctx, "a", nil, job.WithJobID("custom"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Add(ctx, "b", nil, job.WithJobID("custom"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "custom" || second.ID != "custom" {
		t.Errorf("ids = %s, %s", first.ID, second.ID)
	}
	stored, err := q.GetJob(ctx, "custom")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "a" {
		t.Errorf("second add replaced the job: name = %s", stored.Name)
	}
}

func TestQueue_Deduplication(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	first, err := q.Add(ctx, "sync", nil, job.WithDeduplication(job.Deduplication{ID: "user-1"}))
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Add(ctx, "sync", nil, job.WithDeduplication(job.Deduplication{ID: "user-1"}))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("deduplicated add returned %s, want %s", second.ID, first.ID)
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestQueue_AddBulk(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	jobs, err := q.AddBulk(ctx, []queue.BulkJob{
		{Name: "one", Data: 1},
		{Name: "two", Data: 2, Opts: job.Options{Delay: 60_000}},
		{Name: "three", Data: 3, Opts: job.Options{Priority: 1}},
	})
	if err != nil {
		t.Fatalf("AddBulk: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs", len(jobs))
	}
	listed, err := q.GetJobs(ctx, []job.State{job.StateWaiting, job.StateDelayed, job.StatePrioritized}, 0, -1, true)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, j := range listed {
		names = append(names, j.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"one", "three", "two"}) {
		t.Errorf("listed = %v", names)
	}

	if _, err := q.AddBulk(ctx, []queue.BulkJob{{Name: "ok"}, {Name: "bad", Opts: job.Options{Priority: -1}}}); !errors.Is(err, strand.ErrInvalidOptions) {
		t.Errorf("invalid bulk err = %v", err)
	}
}

func TestQueue_AddBulkReportsRejectedEntries(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	orphan := job.Options{Parent: &job.ParentRef{ID: "gone", QueueKey: q.Namespace().QueueKey()}}
	jobs, err := q.AddBulk(ctx, []queue.BulkJob{
		{Name: "first"},
		{Name: "orphan", Opts: orphan},
		{Name: "last"},
	})
	var bulk *strand.BulkError
	if !errors.As(err, &bulk) {
		t.Fatalf("err = %v, want *strand.BulkError", err)
	}
	if !slices.Equal(bulk.Indices(), []int{1}) {
		t.Errorf("rejected indices = %v, want [1]", bulk.Indices())
	}
	if !errors.Is(err, strand.ErrParentNotFound) {
		t.Errorf("err does not wrap ErrParentNotFound: %v", err)
	}
	if len(jobs) != 3 || jobs[0] == nil || jobs[1] != nil || jobs[2] == nil {
		t.Fatalf("jobs = %v", jobs)
	}
	for _, j := range []*job.Job{jobs[0], jobs[2]} {
		if state, _ := q.GetJobState(ctx, j.ID); state != job.StateWaiting {
			t.Errorf("%s state = %s, want waiting", j.Name, state)
		}
	}
	if n, _ := q.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestQueue_PauseResume(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, "x", nil); err != nil {
		t.Fatal(err)
	}
	if err := q.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if paused, _ := q.IsPaused(ctx); !paused {
		t.Error("queue not paused")
	}
	// Paused jobs are still reported as waiting.
	counts, err := q.GetJobCounts(ctx, job.StateWaiting)
	if err != nil {
		t.Fatal(err)
	}
	if counts[job.StateWaiting] != 1 {
		t.Errorf("waiting while paused = %d", counts[job.StateWaiting])
	}
	if err := q.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if paused, _ := q.IsPaused(ctx); paused {
		t.Error("queue still paused")
	}
}

func TestQueue_JobMutations(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	j, err := q.Add(ctx, "x", map[string]int{"v": 1}, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.UpdateData(ctx, j.ID, map[string]int{"v": 2}); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	if err := q.UpdateProgress(ctx, j.ID, 50); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if _, err := q.AddLog(ctx, j.ID, "first", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := q.AddLog(ctx, j.ID, "second", 0); err != nil {
		t.Fatal(err)
	}
	stored, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored.Data) != `{"v":2}` || string(stored.Progress) != "50" {
		t.Errorf("data/progress = %s/%s", stored.Data, stored.Progress)
	}
	lines, total, err := q.GetJobLogs(ctx, j.ID, 0, -1, true)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || !slices.Equal(lines, []string{"first", "second"}) {
		t.Errorf("logs = %v (%d)", lines, total)
	}

	if err := q.Promote(ctx, j.ID); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if state, _ := q.GetJobState(ctx, j.ID); state != job.StateWaiting {
		t.Errorf("state after promote = %s", state)
	}
	if err := q.Promote(ctx, j.ID); !errors.Is(err, strand.ErrJobNotInState) {
		t.Errorf("second promote err = %v", err)
	}

	if err := q.ChangePriority(ctx, j.ID, 5, false); err != nil {
		t.Fatalf("ChangePriority: %v", err)
	}
	if state, _ := q.GetJobState(ctx, j.ID); state != job.StatePrioritized {
		t.Errorf("state after priority change = %s", state)
	}

	removed, err := q.Remove(ctx, j.ID, false)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if _, err := q.GetJob(ctx, j.ID); !errors.Is(err, strand.ErrJobNotFound) {
		t.Errorf("GetJob after remove err = %v", err)
	}
	if state, _ := q.GetJobState(ctx, j.ID); state != job.StateUnknown {
		t.Errorf("state after remove = %s", state)
	}
}

func TestQueue_ChangeDelay(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	waiting, err := q.Add(ctx, "w", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.ChangeDelay(ctx, waiting.ID, time.Minute); !errors.Is(err, strand.ErrJobNotInState) {
		t.Errorf("ChangeDelay on waiting job err = %v", err)
	}

	delayed, err := q.Add(ctx, "d", nil, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.ChangeDelay(ctx, delayed.ID, time.Minute); err != nil {
		t.Fatalf("ChangeDelay: %v", err)
	}
}

func TestQueue_DrainCleanObliterate(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	for range 3 {
		if _, err := q.Add(ctx, "w", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := q.Add(ctx, "d", nil, job.WithDelay(time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := q.Clean(ctx, 0, 2, job.StateWaiting)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("cleaned %d, want 2", len(removed))
	}

	if _, err := q.Drain(ctx, false); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	counts, _ := q.GetJobCounts(ctx, job.StateWaiting, job.StateDelayed)
	if counts[job.StateWaiting] != 0 || counts[job.StateDelayed] != 1 {
		t.Errorf("counts after drain = %v", counts)
	}

	if err := q.Obliterate(ctx, false, 0); !errors.Is(err, strand.ErrQueueNotPaused) {
		t.Errorf("obliterate running queue err = %v", err)
	}
	if err := q.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Obliterate(ctx, false, 0); err != nil {
		t.Fatalf("Obliterate: %v", err)
	}
	keys, err := q.Client().Keys(ctx, q.Namespace().Base()+"*").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("keys left after obliterate: %v", keys)
	}
}

func TestQueue_GlobalLimits(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if err := q.SetGlobalConcurrency(ctx, 0); !errors.Is(err, strand.ErrInvalidOptions) {
		t.Errorf("zero concurrency err = %v", err)
	}
	if err := q.SetGlobalConcurrency(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if n, err := q.GlobalConcurrency(ctx); err != nil || n != 4 {
		t.Errorf("GlobalConcurrency = %d, %v", n, err)
	}
	if maxed, err := q.IsMaxed(ctx); err != nil || maxed {
		t.Errorf("IsMaxed = %v, %v", maxed, err)
	}
	if err := q.RemoveGlobalConcurrency(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.GlobalConcurrency(ctx); n != 0 {
		t.Errorf("concurrency after remove = %d", n)
	}

	if err := q.RateLimit(ctx, time.Minute); err != nil {
		t.Fatal(err)
	}
	ttl, err := q.GetRateLimitTTL(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("rate limit ttl = %s", ttl)
	}
	if err := q.RemoveRateLimitKey(ctx); err != nil {
		t.Fatal(err)
	}
	if ttl, _ := q.GetRateLimitTTL(ctx, 1); ttl > 0 {
		t.Errorf("ttl after removing limiter = %s", ttl)
	}
}
