// Package backoff computes how long a failed job waits before its next
// attempt. Strategies are stateless values and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy maps a retry number to a delay. retry is 1 for the first retry
// after the initial failure.
type Strategy interface {
	Delay(retry int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(retry int) time.Duration

func (f Func) Delay(retry int) time.Duration { return f(retry) }

// Defaults yield 1s, 5s, 25s, ... capped at two hours.
const (
	DefaultInitial    = time.Second
	DefaultMultiplier = 5
	DefaultMax        = 2 * time.Hour
)

// DefaultStrategy is the accountant's strategy when none is configured.
func DefaultStrategy() Strategy {
	return NewExponential(DefaultInitial, DefaultMultiplier, DefaultMax)
}

// Constant waits Interval before every retry.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant { return &Constant{Interval: interval} }

func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial*retry, capped at Max when Max is positive.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(retry int) time.Duration {
	return capped(float64(l.Initial)*float64(max(retry, 1)), l.Max)
}

// Exponential waits Initial*Multiplier^(retry-1), capped at Max when Max is
// positive. A Multiplier below 1 doubles.
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

func NewExponential(initial time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: multiplier, Max: maxDelay}
}

func (e *Exponential) Delay(retry int) time.Duration {
	m := e.Multiplier
	if m < 1 {
		m = 2
	}
	return capped(float64(e.Initial)*math.Pow(m, float64(max(retry, 1)-1)), e.Max)
}

// FullJitter draws each delay uniformly from [0, base.Delay(retry)) so that
// jobs failing together (a provider outage, say) do not retry together.
func FullJitter(base Strategy) Strategy {
	return Func(func(retry int) time.Duration {
		d := base.Delay(retry)
		if d <= 0 {
			return 0
		}
		return rand.N(d) //nolint:gosec // jitter does not need crypto rand
	})
}

// NewExponentialWithJitter is FullJitter over NewExponential.
func NewExponentialWithJitter(initial time.Duration, multiplier float64, maxDelay time.Duration) Strategy {
	return FullJitter(NewExponential(initial, multiplier, maxDelay))
}

// capped converts d to a Duration, clamping at limit (when positive) and at
// the largest Duration. math.Pow reaches +Inf for large retries.
func capped(d float64, limit time.Duration) time.Duration {
	if limit > 0 && (d > float64(limit) || math.IsInf(d, 1)) {
		return limit
	}
	if d >= math.MaxInt64 || math.IsInf(d, 1) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
