package courier

import (
	"context"
	"errors"
)

// classified marks an error as retryable or not. It is produced by
// Transient and Permanent and inspected by IsRetryable.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as a retryable failure, e.g. a provider outage.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Permanent marks err as a non-retryable failure, e.g. a malformed node
// configuration. An instance failing permanently is terminated at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}

// IsRetryable reports whether a step failure should be retried.
//
// Explicit classification wins. Otherwise configuration and graph errors are
// permanent, timeouts are transient, and anything else (typically a delivery
// provider error) is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c *classified
	if errors.As(err, &c) {
		return c.retryable
	}
	switch {
	case errors.Is(err, ErrNoBranchMatched),
		errors.Is(err, ErrIterationLimit),
		errors.Is(err, ErrNoProvider),
		errors.Is(err, ErrNodeNotFound),
		errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrGraphInvalid):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return true
}
