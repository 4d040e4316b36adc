package backplane

import (
	"context"
	"errors"

	"github.com/relaymesh/relaymesh/pkg/types"
)

// ErrBackplaneUnavailable reports that the pub/sub medium is unreachable.
// It is a degraded-mode signal, never fatal to the node: local sessions keep
// working, only cross-node fan-out is lost.
var ErrBackplaneUnavailable = errors.New("backplane unavailable")

// Bus is the pub/sub medium relaying envelopes between cluster nodes. The
// relay treats it as an opaque external collaborator: delivery is
// at-most-once, with no acknowledgment or redelivery, and ordering holds per
// target scope only.
type Bus interface {
	// Publish sends env to every subscribed node, including (on some
	// implementations) the publisher itself — the Relay filters by origin.
	Publish(ctx context.Context, env types.Envelope) error

	// Subscribe registers fn for every envelope published to the bus and
	// returns once the subscription is established. fn is invoked from a
	// bus-owned goroutine until ctx is cancelled.
	Subscribe(ctx context.Context, fn func(types.Envelope)) error

	// Healthy reports whether the medium is currently reachable.
	Healthy() bool

	// Close releases the underlying resources.
	Close() error
}
