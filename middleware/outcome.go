package middleware

import (
	"context"
	"errors"
)

// Outcome classifies how a handler invocation ended. The worker turns every
// non-ok outcome into a retry or a dead job; the classification only feeds
// logs, spans and metrics.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomePanic     Outcome = "panic"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Classify maps a handler error to its Outcome.
func Classify(err error) Outcome {
	var pe *PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pe):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
