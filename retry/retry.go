// Package retry decides what happens to an instance when the node at its
// cursor fails: reschedule the same node after a backoff delay, or
// terminate the instance as failed.
package retry

import (
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/trigger"
)

// Policy is the retry and failure policy.
type Policy struct {
	// MaxAttempts is the number of attempts a node gets. The instance fails
	// on the attempt that reaches it.
	MaxAttempts int
	// Backoff computes the delay before the next attempt.
	Backoff backoff.Strategy
}

// FromConfig builds the policy from the engine configuration.
func FromConfig(cfg courier.Config) Policy {
	return Policy{MaxAttempts: cfg.MaxAttempts, Backoff: backoff.FromConfig(cfg)}
}

// Decision is the transition chosen for a failed step.
type Decision struct {
	Status      trigger.Status
	Attempts    int
	AvailableAt time.Time
	// Reason is the error recorded on the instance.
	Reason error
}

// Retrying reports whether the node will be attempted again.
func (d Decision) Retrying() bool { return d.Status == trigger.StatusWaiting }

// OnFailure classifies err and decides the next state of inst, which is in
// processing after a failed attempt. It never moves the cursor.
func (p Policy) OnFailure(inst *trigger.Instance, err error, now time.Time) Decision {
	attempts := inst.Attempts + 1

	if !courier.IsRetryable(err) {
		return Decision{Status: trigger.StatusFailed, Attempts: attempts, AvailableAt: inst.AvailableAt, Reason: err}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = courier.DefaultConfig().MaxAttempts
	}
	if attempts >= maxAttempts {
		return Decision{
			Status:      trigger.StatusFailed,
			Attempts:    attempts,
			AvailableAt: inst.AvailableAt,
			Reason:      fmt.Errorf("%w after %d attempts: %w", courier.ErrRetryBudgetExhausted, attempts, err),
		}
	}

	strategy := p.Backoff
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	return Decision{
		Status:      trigger.StatusWaiting,
		Attempts:    attempts,
		AvailableAt: now.Add(strategy.Delay(attempts)),
		Reason:      err,
	}
}

// Apply writes the decision onto inst.
func (d Decision) Apply(inst *trigger.Instance, now time.Time) {
	inst.Attempts = d.Attempts
	if d.Reason != nil {
		inst.LastError = d.Reason.Error()
	}
	if d.Status == trigger.StatusFailed {
		inst.Finish(trigger.StatusFailed, now)
		return
	}
	inst.Status = d.Status
	inst.AvailableAt = d.AvailableAt
	inst.Release()
}
