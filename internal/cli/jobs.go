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
)

func newCountsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "counts [state...]",
		Short: "Show the number of jobs per state",
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			states, err := parseStates(args)
			if err != nil {
				return err
			}
			if len(states) == 0 {
				states = queue.AllStates
			}
			counts, err := q.GetJobCounts(ctx, states...)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), counts)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tJOBS")
			for _, st := range states {
				fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
			}
			return w.Flush()
		}),
	}
}

func newAddCommand(a *app) *cobra.Command {
	var (
		delay    time.Duration
		priority int
		attempts int
		jobID    string
		lifo     bool
	)
	cmd := &cobra.Command{
		Use:   "add <name> [json-data]",
		Short: "Add a job",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			var data json.RawMessage
			if len(args) == 2 {
				data = json.RawMessage(args[1])
				if !json.Valid(data) {
					return fmt.Errorf("job data is not valid JSON")
				}
			}
			opts := []job.Option{}
			if delay > 0 {
				opts = append(opts, job.WithDelay(delay))
			}
			if priority > 0 {
				opts = append(opts, job.WithPriority(priority))
			}
			if attempts > 0 {
				opts = append(opts, job.WithAttempts(attempts))
			}
			if jobID != "" {
				opts = append(opts, job.WithJobID(jobID))
			}
			if lifo {
				opts = append(opts, job.WithLIFO())
			}
			j, err := q.Add(ctx, args[0], data, opts...)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), j)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job added: %s\n", j.ID)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job can be processed")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority, 1 is highest")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Total attempts")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Custom job id")
	cmd.Flags().BoolVar(&lifo, "lifo", false, "Add to the head of the wait list")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	var logs bool
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			j, err := q.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			state, err := q.GetJobState(ctx, args[0])
			if err != nil {
				return err
			}
			out := struct {
				*job.Job
				State job.State `json:"state"`
				Logs  []string  `json:"logs,omitempty"`
			}{Job: j, State: state}
			if logs {
				lines, _, err := q.GetJobLogs(ctx, args[0], 0, -1, true)
				if err != nil {
					return err
				}
				out.Logs = lines
			}
			return a.printJSON(cmd.OutOrStdout(), out)
		}),
	}
	cmd.Flags().BoolVar(&logs, "logs", false, "Include the job log")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var (
		start, end int64
		desc       bool
	)
	cmd := &cobra.Command{
		Use:   "list <state...>",
		Short: "List jobs in the given states",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			states, err := parseStates(args)
			if err != nil {
				return err
			}
			jobs, err := q.GetJobs(ctx, states, start, end, !desc)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), jobs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tATTEMPTS\tCREATED\tREASON")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.Name, j.AttemptsMade, j.Timestamp.Format(time.RFC3339), j.FailedReason)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().Int64Var(&start, "start", 0, "First position")
	cmd.Flags().Int64Var(&end, "end", 49, "Last position, -1 for all")
	cmd.Flags().BoolVar(&desc, "desc", false, "Newest first")
	return cmd
}

func newRetryCommand(a *app) *cobra.Command {
	var (
		from  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Move failed (or completed) jobs back to wait",
		Long:  "With a job id, reprocess that job. Without one, retry every job in --state.",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			st, err := parseState(from)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := q.Reprocess(ctx, args[0], st, true); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved to wait\n", args[0])
				return nil
			}
			if err := q.Retry(ctx, st, count); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retried %s jobs of %s\n", st, q.Name())
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "state", string(job.StateFailed), "State to retry from (failed or completed)")
	cmd.Flags().IntVar(&count, "count", 1000, "Jobs moved per round trip")
	return cmd
}

func newPromoteCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "promote [job-id]",
		Short: "Move delayed jobs to wait now",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			switch {
			case len(args) == 1:
				if err := q.Promote(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s promoted\n", args[0])
			case all:
				n, err := q.PromoteJobs(ctx, 1000)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Promoted %d jobs\n", n)
			default:
				return fmt.Errorf("give a job id or --all")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "Promote every delayed job")
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			removed, err := q.Remove(ctx, args[0], children)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("job %s is locked by a worker", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed\n", args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&children, "children", true, "Also remove the job's children")
	return cmd
}
