package delivery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/courier"
)

// Limit defines per-channel rate limiting and concurrency.
type Limit struct {
	// Channel the limit applies to.
	Channel Channel

	// MaxConcurrency limits in-flight sends on the channel. Zero means no
	// limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained sends per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 if RateLimit
	// is set but RateBurst is zero.
	RateBurst int
}

type channelState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

func newChannelState(l Limit) *channelState {
	cs := &channelState{limit: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return cs
}

// Throttle wraps a Provider with per-channel limits. A send that would
// exceed a limit fails with a transient ErrThrottled so the step is retried
// after backoff instead of blocking a worker.
type Throttle struct {
	next Provider

	mu       sync.Mutex
	channels map[Channel]*channelState
}

// NewThrottle wraps next. Channels without a Limit are unrestricted.
func NewThrottle(next Provider, limits ...Limit) *Throttle {
	t := &Throttle{next: next, channels: make(map[Channel]*channelState, len(limits))}
	for _, l := range limits {
		t.channels[l.Channel] = newChannelState(l)
	}
	return t
}

// Acquire reports whether a send on channel may proceed now. The caller
// must call Release when it returns true.
func (t *Throttle) Acquire(channel Channel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.channels[channel]
	if cs == nil {
		return true
	}
	if cs.limit.MaxConcurrency > 0 && cs.active >= cs.limit.MaxConcurrency {
		return false
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	cs.active++
	return true
}

// Release frees a slot taken by Acquire.
func (t *Throttle) Release(channel Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cs := t.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetLimit updates (or creates) the limit of a channel, keeping its
// in-flight count.
func (t *Throttle) SetLimit(l Limit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := newChannelState(l)
	if existing := t.channels[l.Channel]; existing != nil {
		cs.active = existing.active
	}
	t.channels[l.Channel] = cs
}

// ActiveCount returns the number of in-flight sends on channel.
func (t *Throttle) ActiveCount(channel Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cs := t.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}

// Send forwards to the wrapped provider when the channel has capacity.
func (t *Throttle) Send(ctx context.Context, channel Channel, target string, content Content) (string, error) {
	if !t.Acquire(channel) {
		return "", courier.Transient(fmt.Errorf("%w: %s", ErrThrottled, channel))
	}
	defer t.Release(channel)
	return t.next.Send(ctx, channel, target, content)
}
