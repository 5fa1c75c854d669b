package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/courier"
)

// Recover returns middleware that turns a panic in the chain into a
// permanent step failure. A node that panics would panic again on retry.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *Step, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step panicked",
					slog.String("instance_id", s.InstanceID.String()),
					slog.String("node", s.NodeKey),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = courier.Permanent(fmt.Errorf("panic in node %s: %v", s.NodeKey, r))
			}
		}()
		return next(ctx)
	}
}
