// Package scheduler manages job schedulers: named templates that
// materialise a job at every run of a cron pattern or fixed interval.
//
// At most one run of a scheduler exists at a time. Its id encodes the
// scheduler and the due time ("repeat:<id>:<millis>"), so two producers
// racing to create the same run collide on the id instead of duplicating
// it. When a worker claims a run it calls [Manager.Next], which computes
// the following run with [NextMillis] and adds it atomically.
//
//	m := scheduler.NewManager(store, keys.New("strand", "reports"))
//	runID, err := m.Upsert(ctx, "nightly",
//	    scheduler.Spec{Pattern: "0 2 * * *", TZ: "Europe/Berlin"},
//	    scheduler.Template{Name: "build-report"},
//	)
package scheduler
