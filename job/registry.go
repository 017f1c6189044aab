package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON
// payload and returns the raw JSON result, which may be nil.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

type registration struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job types to type-erased handler functions and the
// default options their definitions declare.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]registration),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler, and JSON-marshals a non-nil result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		res, err := def.Handler(ctx, t)
		if err != nil || res == nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Name, err)
		}
		if string(out) == "null" {
			return nil, nil
		}
		return out, nil
	}
	r.Register(def.Name, handler, def.Opts)
}

// Register registers a raw handler under the given job type.
func (r *Registry) Register(name string, h HandlerFunc, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = registration{handler: h, opts: opts}
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	return reg.handler, ok
}

// Options returns the default options registered for a job type.
func (r *Registry) Options(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	return reg.opts, ok
}

// Names returns all registered job types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
