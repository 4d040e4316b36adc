package backplane

import (
	"context"
	"sync"

	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/pkg/types"
)

// MemoryBus is an in-process Bus. It backs multi-node tests (several relays
// sharing one bus) and can simulate an outage via SetDown, which makes
// Publish fail the way an unreachable medium would.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []func(types.Envelope)
	down bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers env synchronously to every subscriber.
func (b *MemoryBus) Publish(ctx context.Context, env types.Envelope) error {
	b.mu.RLock()
	down := b.down
	subs := make([]func(types.Envelope), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	if down {
		return ErrBackplaneUnavailable
	}
	metrics.BackplanePublished.Inc()
	for _, fn := range subs {
		fn(env)
	}
	return nil
}

// Subscribe registers fn for all subsequent publishes.
func (b *MemoryBus) Subscribe(ctx context.Context, fn func(types.Envelope)) error {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
	return nil
}

// SubscriberCount returns the number of registered subscribers.
func (b *MemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// SetDown toggles the simulated outage.
func (b *MemoryBus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Healthy reports whether the bus is accepting publishes.
func (b *MemoryBus) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.down
}

// Close is a no-op.
func (b *MemoryBus) Close() error { return nil }
