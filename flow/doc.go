// Package flow adds trees of dependent jobs.
//
// A parent job starts in waiting-children and only becomes processable
// once every child has completed. Children may live in other queues and
// have children of their own. Producer.Add inserts the whole tree in one
// transaction, so workers never see a child without its parent.
//
//	node, err := flow.NewProducer(client).Add(ctx, flow.Job{
//		Name:      "render-report",
//		QueueName: "reports",
//		Children: []flow.Job{
//			{Name: "fetch-sales", QueueName: "fetch", Data: salesQuery},
//			{Name: "fetch-costs", QueueName: "fetch", Data: costQuery},
//		},
//	})
//
// The parent handler reads the children's return values with
// queue.ChildrenValues.
package flow
