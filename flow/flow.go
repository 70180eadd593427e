package flow

import (
	"fmt"

	"github.com/xraph/strand"
	"github.com/xraph/strand/id"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/keys"
	"github.com/xraph/strand/queue"
	redisstore "github.com/xraph/strand/store/redis"
)

// Job describes one node of a flow: a job and the children it waits for.
type Job struct {
	Name      string
	QueueName string
	// Prefix overrides the producer prefix for this node's queue.
	Prefix   string
	Data     any
	Opts     job.Options
	Children []Job
}

// Node is an added (or loaded) job with its children.
type Node struct {
	Job      *job.Job
	Children []*Node
}

// Walk calls fn for n and every descendant, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// step is one add script invocation of a planned flow.
type step struct {
	ns   keys.Namespace
	args redisstore.AddJobArgs
	node *Node
}

// plan flattens a flow tree into add calls, parents before their
// children, so the add script of every child finds its parent hash.
// Ids are assigned client side so children can reference them.
func plan(root Job, prefix string, parent *job.ParentRef, defaults func(keys.Namespace) job.Options) ([]step, *Node, error) {
	if root.QueueName == "" {
		return nil, nil, fmt.Errorf("%w: flow job %q has no queue", strand.ErrInvalidOptions, root.Name)
	}
	if root.Opts.Parent != nil {
		return nil, nil, fmt.Errorf("%w: flow job %q sets a parent; the tree defines it", strand.ErrInvalidOptions, root.Name)
	}
	p := prefix
	if root.Prefix != "" {
		p = root.Prefix
	}
	ns := keys.New(p, root.QueueName)

	opts := root.Opts
	if defaults != nil {
		opts = opts.Merge(defaults(ns))
	}
	if opts.JobID == "" {
		opts.JobID = id.NewJobID()
	}
	opts.Parent = parent
	if len(root.Children) > 0 && opts.Delay > 0 {
		return nil, nil, fmt.Errorf("%w: flow parent %q cannot be delayed", strand.ErrInvalidOptions, root.Name)
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, fmt.Errorf("flow job %q: %w", root.Name, err)
	}
	data, err := queue.EncodeData(root.Data)
	if err != nil {
		return nil, nil, err
	}

	node := &Node{Job: &job.Job{
		ID:       opts.JobID,
		Queue:    root.QueueName,
		Name:     root.Name,
		Data:     data,
		Opts:     opts,
		Priority: opts.Priority,
		Parent:   parent,
	}}
	steps := []step{{
		ns: ns,
		args: redisstore.AddJobArgs{
			Name:         root.Name,
			Data:         data,
			Opts:         opts,
			WaitChildren: len(root.Children) > 0,
		},
		node: node,
	}}

	ref := &job.ParentRef{ID: opts.JobID, QueueKey: ns.QueueKey()}
	for _, child := range root.Children {
		childSteps, childNode, err := plan(child, p, ref, defaults)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, childSteps...)
		node.Children = append(node.Children, childNode)
	}
	return steps, node, nil
}
