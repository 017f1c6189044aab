package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the job type this definition handles.
	Name string

	// Handler processes the payload. A non-nil result is stored on the
	// completed job as JSON.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts holds the defaults applied when a job of this type is enqueued.
	Opts Options
}

// NewDefinition creates a typed job definition whose handler produces no
// result.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	return newDefinition(name, func(ctx context.Context, payload T) (any, error) {
		return nil, handler(ctx, payload)
	}, opts)
}

// NewResultDefinition creates a typed job definition whose handler returns
// a result of type R.
func NewResultDefinition[T, R any](name string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T] {
	return newDefinition(name, func(ctx context.Context, payload T) (any, error) {
		res, err := handler(ctx, payload)
		if err != nil {
			return nil, err
		}
		return res, nil
	}, opts)
}

func newDefinition[T any](name string, h func(context.Context, T) (any, error), opts []Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: h,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
