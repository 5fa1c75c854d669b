package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/courier"
)

// Router dispatches sends to the provider registered for each channel.
// It is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	providers map[Channel]Provider
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{providers: make(map[Channel]Provider)}
}

// Register sets the provider for channel, replacing any previous one.
func (r *Router) Register(channel Channel, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[channel] = p
}

// Channels reports how many channels have a provider.
func (r *Router) Channels() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Send routes to the channel's provider. A channel without a provider is a
// permanent failure.
func (r *Router) Send(ctx context.Context, channel Channel, target string, content Content) (string, error) {
	r.mu.RLock()
	p, ok := r.providers[channel]
	r.mu.RUnlock()
	if !ok {
		return "", courier.Permanent(fmt.Errorf("%w: %s", courier.ErrNoProvider, channel))
	}
	return p.Send(ctx, channel, target, content)
}
