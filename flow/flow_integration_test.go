//go:build integration

package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/strand"
	"github.com/xraph/strand/flow"
	"github.com/xraph/strand/id"
	"github.com/xraph/strand/internal/redistest"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/queue"
	redisstore "github.com/xraph/strand/store/redis"
	"github.com/xraph/strand/worker"
)

func TestProducer_AddBlocksParentUntilChildrenComplete(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	parentQueue := redistest.QueueName(t)
	childQueue := redistest.QueueName(t)

	p := flow.NewProducer(client)
	node, err := p.Add(ctx, flow.Job{
		Name:      "sum",
		QueueName: parentQueue,
		Children: []flow.Job{
			{Name: "one", QueueName: childQueue, Data: map[string]int{"v": 1}},
			{Name: "two", QueueName: childQueue, Data: map[string]int{"v": 2}},
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	pq := queue.New(parentQueue, client)
	state, err := pq.GetJobState(ctx, node.Job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state != job.StateWaitingChildren {
		t.Fatalf("parent state = %s, want waiting-children", state)
	}

	deps, err := pq.Dependencies(ctx, node.Job.ID, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if deps.Total != 2 {
		t.Errorf("pending dependencies = %d, want 2", deps.Total)
	}

	childWorker := worker.New(childQueue, client, func(_ context.Context, j *job.Job) (any, error) {
		var in struct{ V int }
		if err := j.Decode(&in); err != nil {
			return nil, err
		}
		return in.V, nil
	}, worker.WithDrainDelay(time.Second))
	if err := childWorker.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer childWorker.Stop(ctx) //nolint:errcheck // test teardown

	total := make(chan int, 1)
	parentWorker := worker.New(parentQueue, client, func(ctx context.Context, j *job.Job) (any, error) {
		page, err := pq.ChildrenValues(ctx, j.ID, 0, -1)
		if err != nil {
			return nil, err
		}
		sum := 0
		for i := 1; i < len(page.Items); i += 2 {
			var v int
			if err := json.Unmarshal([]byte(page.Items[i]), &v); err != nil {
				return nil, err
			}
			sum += v
		}
		total <- sum
		return sum, nil
	}, worker.WithDrainDelay(time.Second))
	if err := parentWorker.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer parentWorker.Stop(ctx) //nolint:errcheck // test teardown

	select {
	case sum := <-total:
		if sum != 3 {
			t.Errorf("sum of children = %d, want 3", sum)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("parent never ran")
	}

	tree, err := p.GetFlow(ctx, parentQueue, node.Job.ID, flow.GetFlowOptions{})
	if err != nil {
		t.Fatalf("GetFlow: %v", err)
	}
	if len(tree.Children) != 2 {
		t.Errorf("loaded children = %d, want 2", len(tree.Children))
	}
}

func TestProducer_ChildOfAnotherParent(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	name := redistest.QueueName(t)

	p := flow.NewProducer(client)
	first, err := p.Add(ctx, flow.Job{
		Name:      "parent",
		QueueName: name,
		Children:  []flow.Job{{Name: "c", QueueName: name}},
	})
	if err != nil {
		t.Fatal(err)
	}

	childID := first.Children[0].Job.ID
	_, err = p.Add(ctx, flow.Job{
		Name:      "other-parent",
		QueueName: name,
		Children:  []flow.Job{{Name: "c", QueueName: name, Opts: job.Options{JobID: childID}}},
	})
	if !errors.Is(err, strand.ErrParentReplace) {
		t.Fatalf("err = %v, want ErrParentReplace", err)
	}
}

func settle(t *testing.T, q *queue.Queue, j *job.Job, failed bool) {
	t.Helper()
	_, err := q.Store().MoveToFinished(context.Background(), q.Namespace(), redisstore.FinishArgs{
		JobID:    j.ID,
		Token:    j.Token,
		Failed:   failed,
		Value:    `"x"`,
		Attempts: 1,
	})
	if err != nil {
		t.Fatalf("finish %s: %v", j.Name, err)
	}
}

func TestProducer_ChildFailurePolicies(t *testing.T) {
	tests := []struct {
		name        string
		opts        job.Options
		afterFail   job.State
		afterOthers job.State
		recorded    bool
	}{
		{name: "none", afterFail: job.StateWaitingChildren, afterOthers: job.StateWaitingChildren},
		{name: "fail parent", opts: job.Options{FailParentOnFailure: true}, afterFail: job.StateFailed, afterOthers: job.StateFailed},
		{name: "continue parent", opts: job.Options{ContinueParentOnFailure: true}, afterFail: job.StateWaiting, afterOthers: job.StateWaiting, recorded: true},
		{name: "ignore dependency", opts: job.Options{IgnoreDependencyOnFailure: true}, afterFail: job.StateWaitingChildren, afterOthers: job.StateWaiting, recorded: true},
		{name: "remove dependency", opts: job.Options{RemoveDependencyOnFailure: true}, afterFail: job.StateWaitingChildren, afterOthers: job.StateWaiting},
	}
	client := redistest.Start(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pq := queue.New(redistest.QueueName(t), client)
			cq := queue.New(redistest.QueueName(t), client)

			node, err := flow.NewProducer(client).Add(ctx, flow.Job{
				Name:      "parent",
				QueueName: pq.Namespace().Queue(),
				Children: []flow.Job{
					{Name: "bad", QueueName: cq.Namespace().Queue(), Opts: tt.opts},
					{Name: "good", QueueName: cq.Namespace().Queue()},
				},
			})
			if err != nil {
				t.Fatalf("Add: %v", err)
			}

			claimed := map[string]*job.Job{}
			for range 2 {
				c, err := cq.Store().MoveToActive(ctx, cq.Namespace(), redisstore.ClaimOptions{
					Token:        id.NewToken(),
					LockDuration: 30_000,
				})
				if err != nil || c.Job == nil {
					t.Fatalf("claim child: %+v, %v", c, err)
				}
				claimed[c.Job.Name] = c.Job
			}

			state := func() job.State {
				s, err := pq.GetJobState(ctx, node.Job.ID)
				if err != nil {
					t.Fatal(err)
				}
				return s
			}
			settle(t, cq, claimed["bad"], true)
			if got := state(); got != tt.afterFail {
				t.Errorf("parent after child failure = %s, want %s", got, tt.afterFail)
			}
			settle(t, cq, claimed["good"], false)
			if got := state(); got != tt.afterOthers {
				t.Errorf("parent after sibling completed = %s, want %s", got, tt.afterOthers)
			}

			page, err := pq.FailedChildren(ctx, node.Job.ID, 0, -1)
			if err != nil {
				t.Fatal(err)
			}
			if got := page.Total > 0; got != tt.recorded {
				t.Errorf("failure recorded on parent = %v, want %v", got, tt.recorded)
			}
		})
	}
}

func TestProducer_AddBulkReportsRejectedFlows(t *testing.T) {
	client := redistest.Start(t)
	ctx := context.Background()
	name := redistest.QueueName(t)
	p := flow.NewProducer(client)

	taken, err := p.Add(ctx, flow.Job{
		Name:      "owner",
		QueueName: name,
		Children:  []flow.Job{{Name: "c", QueueName: name}},
	})
	if err != nil {
		t.Fatal(err)
	}

	roots, err := p.AddBulk(ctx, []flow.Job{
		{Name: "fresh", QueueName: name},
		{
			Name:      "thief",
			QueueName: name,
			Children:  []flow.Job{{Name: "c", QueueName: name, Opts: job.Options{JobID: taken.Children[0].Job.ID}}},
		},
	})
	var bulk *strand.BulkError
	if !errors.As(err, &bulk) {
		t.Fatalf("err = %v, want *strand.BulkError", err)
	}
	if idx := bulk.Indices(); len(idx) != 1 || idx[0] != 1 {
		t.Errorf("rejected flows = %v, want [1]", idx)
	}
	if !errors.Is(err, strand.ErrParentReplace) {
		t.Errorf("err does not wrap ErrParentReplace: %v", err)
	}
	if roots[0] == nil || roots[1] != nil {
		t.Fatalf("roots = %v", roots)
	}
	q := queue.New(name, client)
	if state, _ := q.GetJobState(ctx, roots[0].Job.ID); state != job.StateWaiting {
		t.Errorf("accepted flow state = %s", state)
	}
}
