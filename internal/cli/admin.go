package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/strand/queue"
)

func newPauseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause a queue; workers stop claiming new jobs",
		Args:  cobra.NoArgs,
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, _ []string) error {
			if err := q.Pause(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue %s paused\n", q.Name())
			return nil
		}),
	}
}

func newResumeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused queue",
		Args:  cobra.NoArgs,
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, _ []string) error {
			if err := q.Resume(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue %s resumed\n", q.Name())
			return nil
		}),
	}
}

func newDrainCommand(a *app) *cobra.Command {
	var delayed bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Remove every waiting job",
		Args:  cobra.NoArgs,
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, _ []string) error {
			n, err := q.Drain(ctx, delayed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Drained %d jobs\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&delayed, "delayed", false, "Also remove delayed jobs")
	return cmd
}

func newCleanCommand(a *app) *cobra.Command {
	var (
		grace time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "clean <state>",
		Short: "Remove jobs of a state older than --grace",
		Args:  cobra.ExactArgs(1),
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error {
			st, err := parseState(args[0])
			if err != nil {
				return err
			}
			removed, err := q.Clean(ctx, grace, limit, st)
			if err != nil {
				return err
			}
			if a.outputJSON {
				return a.printJSON(cmd.OutOrStdout(), removed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d %s jobs\n", len(removed), st)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Keep jobs younger than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs removed, 0 for all")
	return cmd
}

func newObliterateCommand(a *app) *cobra.Command {
	var (
		force bool
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "obliterate",
		Short: "Delete a paused queue and all of its data",
		Args:  cobra.NoArgs,
		RunE: a.withQueue(func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, _ []string) error {
			if !yes {
				return fmt.Errorf("obliterate deletes every job of %s; pass --yes to confirm", q.Name())
			}
			if err := q.Obliterate(ctx, force, 1000); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue %s obliterated\n", q.Name())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete even with active jobs")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm")
	return cmd
}
