//go:build integration

package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/event"
	"github.com/xraph/strand/internal/redistest"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/queue"
	"github.com/xraph/strand/worker"
)

func TestReader_WaitUntilFinishedWithWorker(t *testing.T) {
	client := redistest.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	name := redistest.QueueName(t)

	r := event.NewReader(client, name, event.WithBlock(200*time.Millisecond))
	go r.Run(ctx) //nolint:errcheck // stopped by ctx

	w := worker.New(name, client, func(_ context.Context, j *job.Job) (any, error) {
		if j.Name == "bad" {
			return nil, strand.Unrecoverable(errors.New("nope"))
		}
		return "pong", nil
	}, worker.WithDrainDelay(time.Second))
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(context.Background()) //nolint:errcheck // test teardown

	q := queue.New(name, client)
	good, err := q.Add(ctx, "ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := r.WaitUntilFinished(ctx, good.ID, 10*time.Second)
	if err != nil {
		t.Fatalf("WaitUntilFinished: %v", err)
	}
	if string(v) != `"pong"` {
		t.Errorf("value = %s", v)
	}

	bad, err := q.Add(ctx, "bad", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.WaitUntilFinished(ctx, bad.ID, 10*time.Second); !errors.Is(err, strand.ErrJobFailed) {
		t.Errorf("err = %v, want ErrJobFailed", err)
	}
}

func TestReader_StreamsQueueEvents(t *testing.T) {
	client := redistest.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	name := redistest.QueueName(t)

	r := event.NewReader(client, name, event.WithBlock(200*time.Millisecond), event.WithLastID("0"))
	waiting, unsubscribe := r.Subscribe(event.Filter{Types: []event.Type{event.Waiting, event.Delayed}})
	defer unsubscribe()
	go r.Run(ctx) //nolint:errcheck // stopped by ctx

	q := queue.New(name, client)
	now, err := q.Add(ctx, "now", nil)
	if err != nil {
		t.Fatal(err)
	}
	later, err := q.Add(ctx, "later", nil, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	got := map[string]event.Type{}
	for len(got) < 2 {
		select {
		case e := <-waiting:
			got[e.JobID] = e.Type
		case <-time.After(5 * time.Second):
			t.Fatalf("events so far: %v", got)
		}
	}
	if got[now.ID] != event.Waiting || got[later.ID] != event.Delayed {
		t.Errorf("events = %v", got)
	}
}
