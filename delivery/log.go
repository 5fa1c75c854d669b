package delivery

import (
	"context"
	"log/slog"

	"github.com/xraph/courier/id"
)

// LogProvider writes every message to a logger instead of delivering it.
// It is the default provider of courierd when no real provider is wired.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a LogProvider.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

// Send logs the message and returns a generated message id.
func (p *LogProvider) Send(ctx context.Context, channel Channel, target string, content Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msgID := "log_" + id.NewStepID().String()
	p.logger.InfoContext(ctx, "message delivered",
		slog.String("channel", string(channel)),
		slog.String("target", target),
		slog.String("subject", content.Subject),
		slog.Int("body_bytes", len(content.Body)),
		slog.String("message_id", msgID),
	)
	return msgID, nil
}
