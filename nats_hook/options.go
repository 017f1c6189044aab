package natshook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithPrefix replaces DefaultPrefix. The prefix is used verbatim, so it
// should end with a dot.
func WithPrefix(prefix string) Option {
	return func(e *Extension) { e.prefix = prefix }
}

// WithSubjects restricts publishing to the listed subject suffixes.
// Unknown subjects are ignored.
func WithSubjects(subjects ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(subjects))
		for _, s := range subjects {
			e.enabled[s] = true
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
