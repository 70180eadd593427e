package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/strand"
)

// HandlerFunc processes a claimed job. The returned value is stored as the
// job's JSON return value.
type HandlerFunc func(ctx context.Context, j *Job) (any, error)

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the job name the handler serves.
	Name string

	// Handler receives the decoded payload and the job itself.
	Handler func(ctx context.Context, payload T, j *Job) (any, error)

	// Opts are the default options for jobs added through the definition.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T, j *Job) (any, error), opts ...Option) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    Options{}.Apply(opts...),
	}
}

// Registry maps job names to handlers. A worker serving several job names
// in one queue uses Registry.Process as its handler.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Name, func(ctx context.Context, j *Job) (any, error) {
		var t T
		if len(j.Data) > 0 {
			if err := json.Unmarshal(j.Data, &t); err != nil {
				// A payload that does not decode never will.
				return nil, strand.Unrecoverable(fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err))
			}
		}
		return def.Handler(ctx, t, j)
	})
}

// Register adds an untyped handler.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Process dispatches j to the handler registered for its name.
func (r *Registry) Process(ctx context.Context, j *Job) (any, error) {
	h, ok := r.Get(j.Name)
	if !ok {
		return nil, strand.Unrecoverable(fmt.Errorf("%w: job name %q", strand.ErrNoHandler, j.Name))
	}
	return h(ctx, j)
}
