// Package memory provides an in-memory delivery provider that records every
// message it is asked to send. Intended for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/courier/delivery"
)

// Message is a recorded send.
type Message struct {
	ID      string
	Channel delivery.Channel
	Target  string
	Content delivery.Content
}

// Provider records messages. Fail, when set, is consulted before each send;
// a non-nil error fails the send without recording it.
type Provider struct {
	mu       sync.Mutex
	messages []Message
	calls    int

	Fail func(call int, target string) error
}

// New returns an empty Provider.
func New() *Provider { return &Provider{} }

// Send records the message and returns a sequential message id.
func (p *Provider) Send(ctx context.Context, channel delivery.Channel, target string, content delivery.Content) (string, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	fail := p.Fail
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fail != nil {
		if err := fail(call, target); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msg := Message{
		ID:      fmt.Sprintf("msg-%d", len(p.messages)+1),
		Channel: channel,
		Target:  target,
		Content: content,
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns a copy of the recorded messages.
func (p *Provider) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Calls returns the number of Send invocations, failed ones included.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
