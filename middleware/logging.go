package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs each step at debug level and every
// failure at warn level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *Step, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("step failed",
				slog.String("instance_id", s.InstanceID.String()),
				slog.String("node", s.NodeKey),
				slog.String("node_type", string(s.NodeType)),
				slog.Int("attempt", s.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Debug("step executed",
			slog.String("instance_id", s.InstanceID.String()),
			slog.String("node", s.NodeKey),
			slog.String("node_type", string(s.NodeType)),
			slog.Int("attempt", s.Attempt),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
