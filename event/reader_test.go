package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
	"github.com/xraph/strand/event"
	"github.com/xraph/strand/job"
)

// fakeSource serves batches pushed by the test and records the ids it
// was asked to read after.
type fakeSource struct {
	last    string
	batches chan []goredis.XMessage

	mu      sync.Mutex
	readIDs []string
}

func newFakeSource(last string) *fakeSource {
	return &fakeSource{last: last, batches: make(chan []goredis.XMessage, 16)}
}

func (s *fakeSource) Read(ctx context.Context, _, lastID string, block time.Duration, _ int64) ([]goredis.XMessage, error) {
	s.mu.Lock()
	s.readIDs = append(s.readIDs, lastID)
	s.mu.Unlock()
	select {
	case b := <-s.batches:
		return b, nil
	case <-time.After(block):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) LastID(context.Context, string) (string, error) { return s.last, nil }

func (s *fakeSource) push(msgs ...goredis.XMessage) { s.batches <- msgs }

func (s *fakeSource) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.readIDs...)
}

type fakeJobs struct {
	state job.State
	job   *job.Job
}

func (f fakeJobs) GetJob(context.Context, string) (*job.Job, error) { return f.job, nil }

func (f fakeJobs) GetJobState(context.Context, string) (job.State, error) { return f.state, nil }

func msg(streamID string, kv ...string) goredis.XMessage {
	values := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		values[kv[i]] = kv[i+1]
	}
	return goredis.XMessage{ID: streamID, Values: values}
}

func startReader(t *testing.T, src *fakeSource, jobs event.JobLookup) *event.Reader {
	t.Helper()
	r := event.NewReader(nil, "emails",
		event.WithSource(src),
		event.WithJobLookup(jobs),
		event.WithBlock(20*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return event.Event{}
	}
}

func TestFromMessage(t *testing.T) {
	tests := []struct {
		name  string
		in    goredis.XMessage
		check func(t *testing.T, e event.Event)
	}{
		{
			name: "completed",
			in:   msg("1700000000000-0", "event", "completed", "jobId", "j1", "returnvalue", `{"ok":true}`, "prev", "active"),
			check: func(t *testing.T, e event.Event) {
				if e.Type != event.Completed || e.JobID != "j1" || e.Prev != "active" {
					t.Errorf("got %+v", e)
				}
				if string(e.ReturnValue) != `{"ok":true}` {
					t.Errorf("ReturnValue = %s", e.ReturnValue)
				}
				if !e.Time().Equal(time.UnixMilli(1700000000000)) {
					t.Errorf("Time = %v", e.Time())
				}
			},
		},
		{
			name: "failed",
			in:   msg("1-0", "event", "failed", "jobId", "j2", "failedReason", "boom"),
			check: func(t *testing.T, e event.Event) {
				if e.Type != event.Failed || e.FailedReason != "boom" {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "delayed",
			in:   msg("1-1", "event", "delayed", "jobId", "j3", "delay", "1700000005000"),
			check: func(t *testing.T, e event.Event) {
				if !e.Delay.Equal(time.UnixMilli(1700000005000)) {
					t.Errorf("Delay = %v", e.Delay)
				}
			},
		},
		{
			name: "cleaned",
			in:   msg("2-0", "event", "cleaned", "count", "7"),
			check: func(t *testing.T, e event.Event) {
				if e.Count != 7 || e.JobID != "" {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "progress",
			in:   msg("3-0", "event", "progress", "jobId", "j4", "data", "42"),
			check: func(t *testing.T, e event.Event) {
				if string(e.Data) != "42" || e.Fields["data"] != "42" {
					t.Errorf("got %+v", e)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event.FromMessage("emails", tt.in)
			if e.Queue != "emails" || e.ID != tt.in.ID {
				t.Errorf("queue/id = %q/%q", e.Queue, e.ID)
			}
			tt.check(t, e)
		})
	}
}

func TestReader_FiltersSubscriptions(t *testing.T) {
	src := newFakeSource("0-0")
	r := startReader(t, src, fakeJobs{})

	all, cancelAll := r.Subscribe(event.Filter{})
	defer cancelAll()
	failed, cancelFailed := r.Subscribe(event.Filter{Types: []event.Type{event.Failed}})
	defer cancelFailed()
	oneJob, cancelJob := r.Subscribe(event.Filter{JobID: "j2"})
	defer cancelJob()

	src.push(
		msg("1-0", "event", "completed", "jobId", "j1"),
		msg("2-0", "event", "failed", "jobId", "j2"),
	)

	if e := receive(t, all); e.JobID != "j1" {
		t.Errorf("all: first = %s", e.JobID)
	}
	if e := receive(t, all); e.JobID != "j2" {
		t.Errorf("all: second = %s", e.JobID)
	}
	if e := receive(t, failed); e.Type != event.Failed {
		t.Errorf("failed: got %s", e.Type)
	}
	if e := receive(t, oneJob); e.JobID != "j2" {
		t.Errorf("job filter: got %s", e.JobID)
	}
}

func TestReader_ResumesAfterLastEntry(t *testing.T) {
	src := newFakeSource("41-0")
	r := startReader(t, src, fakeJobs{})

	ch, cancel := r.Subscribe(event.Filter{})
	defer cancel()
	src.push(msg("42-0", "event", "drained"))
	receive(t, ch)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ids := src.ids()
		if len(ids) >= 2 && ids[0] == "41-0" && ids[len(ids)-1] == "42-0" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("read ids = %v, want 41-0 then 42-0", src.ids())
}

func TestReader_CancelledSubscriptionDoesNotBlock(t *testing.T) {
	src := newFakeSource("0-0")
	r := event.NewReader(nil, "emails", event.WithSource(src), event.WithJobLookup(fakeJobs{}),
		event.WithBlock(20*time.Millisecond), event.WithBuffer(0))

	_, cancelStale := r.Subscribe(event.Filter{})
	cancelStale()
	live, cancel := r.Subscribe(event.Filter{})
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go r.Run(ctx) //nolint:errcheck // stopped by ctx

	src.push(msg("1-0", "event", "drained"))
	receive(t, live)
}

func TestReader_RunsOnce(t *testing.T) {
	src := newFakeSource("0-0")
	r := event.NewReader(nil, "emails", event.WithSource(src), event.WithJobLookup(fakeJobs{}))

	ch, _ := r.Subscribe(event.Filter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscription channel still open after Run returned")
	}
	if err := r.Run(context.Background()); !errors.Is(err, strand.ErrReaderClosed) {
		t.Errorf("second Run = %v, want ErrReaderClosed", err)
	}
	late, _ := r.Subscribe(event.Filter{})
	if _, ok := <-late; ok {
		t.Error("subscription after close is open")
	}
}

func TestWaitUntilFinished(t *testing.T) {
	tests := []struct {
		name    string
		jobs    fakeJobs
		push    []goredis.XMessage
		timeout time.Duration
		want    string
		wantErr error
	}{
		{
			name: "already completed",
			jobs: fakeJobs{state: job.StateCompleted, job: &job.Job{ReturnValue: json.RawMessage(`"done"`)}},
			want: `"done"`,
		},
		{
			name:    "already failed",
			jobs:    fakeJobs{state: job.StateFailed, job: &job.Job{FailedReason: "boom"}},
			wantErr: strand.ErrJobFailed,
		},
		{
			name:    "unknown job",
			jobs:    fakeJobs{state: job.StateUnknown},
			wantErr: strand.ErrJobNotFound,
		},
		{
			name: "completes later",
			jobs: fakeJobs{state: job.StateActive},
			push: []goredis.XMessage{
				msg("1-0", "event", "completed", "jobId", "other", "returnvalue", "1"),
				msg("2-0", "event", "completed", "jobId", "j1", "returnvalue", "2"),
			},
			want: "2",
		},
		{
			name:    "fails later",
			jobs:    fakeJobs{state: job.StateWaiting},
			push:    []goredis.XMessage{msg("1-0", "event", "failed", "jobId", "j1", "failedReason", "bad")},
			wantErr: strand.ErrJobFailed,
		},
		{
			name:    "times out",
			jobs:    fakeJobs{state: job.StateDelayed},
			timeout: 50 * time.Millisecond,
			wantErr: strand.ErrWaitTimedOut,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource("0-0")
			r := startReader(t, src, tt.jobs)

			if len(tt.push) > 0 {
				go func() {
					time.Sleep(20 * time.Millisecond)
					src.push(tt.push...)
				}()
			}

			timeout := tt.timeout
			if timeout == 0 {
				timeout = 2 * time.Second
			}
			got, err := r.WaitUntilFinished(context.Background(), "j1", timeout)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("WaitUntilFinished: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("value = %s, want %s", got, tt.want)
			}
		})
	}
}
