package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/strand/job"
	"github.com/xraph/strand/queue"
	"github.com/xraph/strand/scheduler"
)

func newSchedulersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedulers",
		Aliases: []string{"sched"},
		Short:   "Manage job schedulers",
	}
	cmd.AddCommand(
		newSchedulersListCommand(a),
		newSchedulersUpsertCommand(a),
		newSchedulersRemoveCommand(a),
	)
	return cmd
}

func newSchedulersListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedulers by next run",
		Args:  cobra.NoArgs,
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, _ []string) error {
			list, err := q.GetJobSchedulers(ctx, 0, -1, true)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), list)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tSCHEDULE\tRUNS\tNEXT")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Template.Name, describe(s.Spec), s.Iterations, s.Next.Format(time.RFC3339))
			}
			return w.Flush()
		}),
	}
}

func describe(s scheduler.Spec) string {
	if s.Pattern != "" {
		if s.TZ != "" {
			return s.Pattern + " (" + s.TZ + ")"
		}
		return s.Pattern
	}
	return "every " + s.Every.String()
}

func newSchedulersUpsertCommand(a *app) *cobra.Command {
	var (
		spec     scheduler.Spec
		name     string
		data     string
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "upsert <id>",
		Short: "Create or replace a scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			tpl := scheduler.Template{Name: name}
			if tpl.Name == "" {
				tpl.Name = args[0]
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				tpl.Data = json.RawMessage(data)
			}
			if attempts > 0 {
				tpl.Opts = tpl.Opts.Apply(job.WithAttempts(attempts))
			}
			next, err := q.UpsertJobScheduler(ctx, args[0], spec, tpl)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), next)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduler %s next run %s at %s\n",
				args[0], next.ID, next.Timestamp.Add(next.Delay).Format(time.RFC3339))
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&spec.Pattern, "pattern", "", "Cron pattern, seconds optional")
	f.DurationVar(&spec.Every, "every", 0, "Fixed interval")
	f.DurationVar(&spec.Offset, "offset", 0, "Offset of fixed-interval slots")
	f.StringVar(&spec.TZ, "tz", "", "Time zone of the pattern")
	f.IntVar(&spec.Limit, "limit", 0, "Maximum runs, 0 for unbounded")
	f.BoolVar(&spec.Immediately, "immediately", false, "Run a pattern scheduler once right away")
	f.StringVar(&name, "name", "", "Job name, defaults to the scheduler id")
	f.StringVar(&data, "data", "", "Job data as JSON")
	f.IntVar(&attempts, "attempts", 0, "Attempts of every run")
	return cmd
}

func newSchedulersRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduler and its pending run",
		Args:  cobra.ExactArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			removed, err := q.RemoveJobScheduler(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("scheduler %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduler %s removed\n", args[0])
			return nil
		}),
	}
}
