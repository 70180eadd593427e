package backoff

import (
	"errors"
	"fmt"
	"time"
)

// Built-in policy types.
const (
	TypeFixed       = "fixed"
	TypeExponential = "exponential"
	TypeLinear      = "linear"
)

// Stop is returned by Resolve when the job must not be retried.
const Stop time.Duration = -1

// ErrUnknownStrategy is returned when a policy names a type that is neither
// built in nor registered as a custom strategy.
var ErrUnknownStrategy = errors.New("backoff: unknown strategy")

// Policy is the backoff setting stored in a job's options.
type Policy struct {
	// Type is a built-in type or the name of a custom strategy.
	Type string `json:"type" msgpack:"type"`
	// Delay is the base delay in milliseconds.
	Delay int64 `json:"delay,omitempty" msgpack:"delay,omitempty"`
	// Jitter is the randomised fraction of the delay, in [0, 1].
	Jitter float64 `json:"jitter,omitempty" msgpack:"jitter,omitempty"`
}

// Func is a custom strategy. attemptsMade counts the failures so far,
// including the one being handled. A negative result stops retrying.
type Func func(attemptsMade int, policyType string, err error) time.Duration

// Strategy returns the built-in strategy for p, or nil when the type is
// not built in.
func (p Policy) Strategy() Strategy {
	base := time.Duration(p.Delay) * time.Millisecond

	var s Strategy
	switch p.Type {
	case TypeFixed:
		s = Fixed(base)
	case TypeExponential:
		s = Exponential(base, 0)
	case TypeLinear:
		s = Linear(base, 0)
	default:
		return nil
	}
	return s.WithJitter(p.Jitter)
}

// Resolve returns the delay before the next attempt. A nil policy retries
// immediately. Custom strategies take precedence over built-in types of
// the same name.
func Resolve(p *Policy, attemptsMade int, err error, custom map[string]Func) (time.Duration, error) {
	if p == nil {
		return 0, nil
	}
	if fn, ok := custom[p.Type]; ok {
		d := fn(attemptsMade, p.Type, err)
		if d < 0 {
			return Stop, nil
		}
		return d, nil
	}
	s := p.Strategy()
	if s == nil {
		return Stop, fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Type)
	}
	return s(attemptsMade), nil
}
