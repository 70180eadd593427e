package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/strand/event"
)

func newEventsCommand(a *app) *cobra.Command {
	var (
		types  []string
		jobID  string
		replay bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the queue's events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.queueName == "" {
				return fmt.Errorf("--queue is required")
			}
			client, err := a.redis()
			if err != nil {
				return err
			}

			opts := []event.Option{event.WithPrefix(a.prefix)}
			if replay {
				opts = append(opts, event.WithLastID("0"))
			}
			r := event.NewReader(client, a.queueName, opts...)

			filter := event.Filter{JobID: jobID}
			for _, t := range types {
				filter.Types = append(filter.Types, event.Type(t))
			}
			events, cancel := r.Subscribe(filter)
			defer cancel()

			ctx := cmd.Context()
			errc := make(chan error, 1)
			go func() { errc <- r.Run(ctx) }()

			out := cmd.OutOrStdout()
			for e := range events {
				if a.outputJSON {
					line, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(line))
					continue
				}
				fmt.Fprintln(out, formatEvent(e))
			}
			return <-errc
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these event types")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Only events of this job")
	cmd.Flags().BoolVar(&replay, "replay", false, "Start from the oldest retained event")
	return cmd
}

func formatEvent(e event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-16s", e.Time().Format("15:04:05.000"), e.Type)
	if e.JobID != "" {
		fmt.Fprintf(&b, " job=%s", e.JobID)
	}
	if e.Prev != "" {
		fmt.Fprintf(&b, " prev=%s", e.Prev)
	}
	if e.FailedReason != "" {
		fmt.Fprintf(&b, " reason=%q", e.FailedReason)
	}
	if len(e.ReturnValue) > 0 {
		fmt.Fprintf(&b, " value=%s", e.ReturnValue)
	}
	if e.Count > 0 {
		fmt.Fprintf(&b, " count=%d", e.Count)
	}
	return b.String()
}
