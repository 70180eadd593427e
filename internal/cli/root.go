// Package cli implements the strand command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/strand"
	"github.com/xraph/strand/job"
	"github.com/xraph/strand/queue"
)

// app holds the global flags and the lazily opened client.
type app struct {
	redisURL   string
	prefix     string
	queueName  string
	logLevel   string
	outputJSON bool

	client     goredis.UniversalClient
	ownsClient bool
}

// NewRoot builds the strand command tree.
func NewRoot() *cobra.Command {
	return newRoot(&app{})
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "strand",
		Short: "Inspect and administer strand job queues",
		Long: `strand talks to the Redis server holding the queues.

Every command works on one queue, chosen with --queue. The connection
defaults to $STRAND_REDIS_URL, or redis://localhost:6379/0.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), a.logLevel)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.ownsClient {
				return a.client.Close()
			}
			return nil
		},
	}

	defaultURL := os.Getenv("STRAND_REDIS_URL")
	if defaultURL == "" {
		defaultURL = "redis://localhost:6379/0"
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.redisURL, "redis-url", defaultURL, "Redis connection URL")
	flags.StringVar(&a.prefix, "prefix", strand.DefaultConfig().Prefix, "Key prefix")
	flags.StringVarP(&a.queueName, "queue", "q", "", "Queue name")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.BoolVar(&a.outputJSON, "output-json", false, "Output as JSON")

	root.AddCommand(
		newCountsCommand(a),
		newAddCommand(a),
		newGetCommand(a),
		newListCommand(a),
		newPauseCommand(a),
		newResumeCommand(a),
		newDrainCommand(a),
		newCleanCommand(a),
		newObliterateCommand(a),
		newRetryCommand(a),
		newPromoteCommand(a),
		newRemoveCommand(a),
		newSchedulersCommand(a),
		newEventsCommand(a),
	)
	return root
}

func setupLogging(w io.Writer, level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
}

func (a *app) redis() (goredis.UniversalClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	opts, err := goredis.ParseURL(a.redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse --redis-url: %w", err)
	}
	a.client = goredis.NewClient(opts)
	a.ownsClient = true
	return a.client, nil
}

func (a *app) queue() (*queue.Queue, error) {
	if a.queueName == "" {
		return nil, fmt.Errorf("--queue is required")
	}
	client, err := a.redis()
	if err != nil {
		return nil, err
	}
	return queue.New(a.queueName, client, queue.WithPrefix(a.prefix), queue.WithLogger(slog.Default())), nil
}

// withQueue adapts a queue-scoped RunE.
func (a *app) withQueue(fn func(ctx context.Context, cmd *cobra.Command, q *queue.Queue, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		q, err := a.queue()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), cmd, q, args)
	}
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseState(s string) (job.State, error) {
	for _, st := range queue.AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(queue.AllStates))
	for i, st := range queue.AllStates {
		names[i] = string(st)
	}
	return "", fmt.Errorf("unknown state %q (want one of %s)", s, strings.Join(names, ", "))
}

func parseStates(args []string) ([]job.State, error) {
	out := make([]job.State, 0, len(args))
	for _, s := range args {
		st, err := parseState(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
