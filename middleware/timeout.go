package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/courier"
)

// Timeout returns middleware that bounds action nodes (email, sms) by d.
// Control nodes never call out and run without a deadline. A deadline hit
// is reported as a transient failure.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		if d <= 0 || !s.NodeType.IsAction() {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return courier.Transient(err)
		}
		return err
	}
}
