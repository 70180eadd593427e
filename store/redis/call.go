package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/strand"
)

// Call is one script invocation.
type Call struct {
	Name  string
	Keys  []string
	Args  []any
	JobID string

	// Raw returns negative replies unmapped, for scripts that give the
	// codes their own meaning.
	Raw bool
}

func (c Call) command() (*Command, error) {
	cmd, ok := Lookup(c.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", strand.ErrUnknownScript, c.Name)
	}
	if len(c.Keys) != cmd.NumKeys {
		return nil, fmt.Errorf("strand/redis: %s: got %d keys, want %d", c.Name, len(c.Keys), cmd.NumKeys)
	}
	return cmd, nil
}

// Run executes the call and maps negative integer replies to a
// *strand.ScriptError. A nil script reply is returned as (nil, nil).
func (s *Store) Run(ctx context.Context, c Call) (any, error) {
	cmd, err := c.command()
	if err != nil {
		return nil, err
	}
	v, err := cmd.Script.Run(ctx, s.client, c.Keys, c.Args...).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strand/redis: %s: %w", c.Name, err)
	}
	return c.check(v)
}

// Queue adds the call to a pipeline as EVALSHA. Scripts must be loaded
// first (see Store.Load). Read the reply with Result after Exec.
func (s *Store) Queue(ctx context.Context, pipe goredis.Pipeliner, c Call) (*goredis.Cmd, error) {
	cmd, err := c.command()
	if err != nil {
		return nil, err
	}
	return cmd.Script.EvalSha(ctx, pipe, c.Keys, c.Args...), nil
}

// Result reads the reply of a call queued with Queue.
func Result(c Call, cmd *goredis.Cmd) (any, error) {
	v, err := cmd.Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strand/redis: %s: %w", c.Name, err)
	}
	return c.check(v)
}

func (c Call) check(v any) (any, error) {
	if c.Raw {
		return v, nil
	}
	if n, ok := v.(int64); ok && n < 0 {
		return nil, strand.NewScriptError(n, c.Name, c.JobID)
	}
	return v, nil
}

// ── Reply decoding ──

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, _ := strconv.ParseFloat(n, 64) //nolint:errcheck // best-effort parse from trusted Redis data
			return int64(f)
		}
		return i
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func toSlice(v any) []any {
	s, _ := v.([]any) //nolint:errcheck // nil for any other reply shape
	return s
}

func toStrings(v any) []string {
	items := toSlice(v)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, toString(it))
	}
	return out
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
