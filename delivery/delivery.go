// Package delivery defines the provider boundary the executor sends email
// and sms messages through, plus composable providers: a channel router, a
// rate and concurrency throttle, and a logging provider for development.
package delivery

import (
	"context"
	"errors"
)

// Channel is a delivery medium.
type Channel string

const (
	// ChannelEmail delivers an email.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers a text message.
	ChannelSMS Channel = "sms"
)

// ErrThrottled is returned when a send is rejected by a Throttle.
var ErrThrottled = errors.New("delivery: throttled")

// Content is the rendered message.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Provider sends a message to target over channel and returns the
// provider's message id. Errors are retried unless marked with
// courier.Permanent.
type Provider interface {
	Send(ctx context.Context, channel Channel, target string, content Content) (messageID string, err error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, channel Channel, target string, content Content) (string, error)

// Send calls f.
func (f ProviderFunc) Send(ctx context.Context, channel Channel, target string, content Content) (string, error) {
	return f(ctx, channel, target, content)
}
