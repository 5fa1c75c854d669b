// Package backoff provides the retry delay strategies applied between failed
// attempts of a node. All strategies are stateless and safe for concurrent
// use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/xraph/courier"
)

// Strategy computes the delay before the next attempt of a node.
type Strategy interface {
	// Delay returns how long to wait after the n-th failed attempt
	// (1-indexed).
	Delay(attempt int) time.Duration
}

// Func adapts a function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval after every failure.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Exponential doubles the delay after each failure:
// min(Base * 2^(attempt-1), Cap).
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(base, capDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: capDelay}
}

// Delay returns the capped exponential delay.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(ceiling(e.Base, e.Cap, attempt))
}

// Jittered applies full jitter to the exponential ceiling: a uniformly
// random delay in [0, min(Base * 2^(attempt-1), Cap)]. Spreading retries
// keeps instances that failed together from being reclaimed together.
type Jittered struct {
	Base time.Duration
	Cap  time.Duration
}

// NewJittered creates an exponential strategy with full jitter.
func NewJittered(base, capDelay time.Duration) *Jittered {
	return &Jittered{Base: base, Cap: capDelay}
}

// Delay returns a random duration below the capped exponential ceiling.
func (j *Jittered) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * ceiling(j.Base, j.Cap, attempt)) //nolint:gosec // jitter does not need crypto rand
}

// maxDelay keeps float64 to Duration conversions in range.
const maxDelay = float64(1 << 62)

// ceiling computes min(base * 2^(attempt-1), cap) in float64 so that large
// attempt counts saturate at cap instead of overflowing.
func ceiling(base, capDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if capDelay > 0 && d > float64(capDelay) {
		return float64(capDelay)
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// FromConfig returns the jittered exponential strategy bounded by the
// configured backoff base and cap.
func FromConfig(cfg courier.Config) Strategy {
	return NewJittered(cfg.BackoffBase, cfg.BackoffCap)
}

// DefaultStrategy returns the strategy used when none is configured:
// full jitter over 1s doubling, capped at 5m.
func DefaultStrategy() Strategy {
	return FromConfig(courier.DefaultConfig())
}
