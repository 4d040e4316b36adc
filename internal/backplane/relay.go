package backplane

import (
	"context"
	"errors"
	"log/slog"

	"github.com/relaymesh/relaymesh/internal/conn"
	"github.com/relaymesh/relaymesh/pkg/types"
)

// Local is the node-local delivery surface the relay fans into — in
// production the connection manager.
type Local interface {
	// Send delivers to a locally held session; conn.ErrNotBound means this
	// node does not own the session.
	Send(sessionID string, payload []byte) error

	// Broadcast delivers to every locally connected client.
	Broadcast(payload []byte)
}

// Relay routes messages between application logic, the local connection
// manager, and peer nodes. Local delivery always happens first and never
// depends on backplane health; the bus only extends reach across nodes.
// A nil bus runs the node in single-node mode.
type Relay struct {
	node  string
	bus   Bus
	local Local
}

// NewRelay creates a Relay for this node. bus may be nil (single-node mode).
func NewRelay(node string, bus Bus, local Local) *Relay {
	return &Relay{node: node, bus: bus, local: local}
}

// Run subscribes to the bus and blocks until ctx is cancelled. In
// single-node mode it just waits.
func (r *Relay) Run(ctx context.Context) error {
	if r.bus == nil {
		<-ctx.Done()
		return nil
	}
	if err := r.bus.Subscribe(ctx, r.handle); err != nil {
		// Explicit degraded-mode policy: log and keep serving local sessions.
		slog.Error("relay: backplane subscribe failed — running single-node", "err", err)
	}
	<-ctx.Done()
	return nil
}

// Send delivers payload to the session with the given ID, locally when this
// node holds it, otherwise via the backplane to whichever node does.
func (r *Relay) Send(ctx context.Context, sessionID string, payload []byte) error {
	err := r.local.Send(sessionID, payload)
	if err == nil {
		return nil
	}
	if !errors.Is(err, conn.ErrNotBound) {
		return err
	}
	if r.bus == nil {
		return err
	}
	return r.bus.Publish(ctx, types.Envelope{
		Scope:     types.ScopeSession,
		SessionID: sessionID,
		Origin:    r.node,
		Payload:   payload,
	})
}

// Broadcast delivers payload to every session on every node. The local
// delivery and the publish are independent: a dead backplane costs only the
// remote audience.
func (r *Relay) Broadcast(ctx context.Context, payload []byte) error {
	r.local.Broadcast(payload)
	if r.bus == nil {
		return nil
	}
	if err := r.bus.Publish(ctx, types.Envelope{
		Scope:   types.ScopeBroadcast,
		Origin:  r.node,
		Payload: payload,
	}); err != nil {
		slog.Warn("relay: broadcast fan-out lost", "err", err)
		return err
	}
	return nil
}

// Node returns this node's backplane identity.
func (r *Relay) Node() string { return r.node }

// Status describes the backplane for health reporting: "disabled" in
// single-node mode, "ok" while reachable, "degraded" during an outage.
func (r *Relay) Status() string {
	switch {
	case r.bus == nil:
		return "disabled"
	case r.bus.Healthy():
		return "ok"
	default:
		return "degraded"
	}
}

// handle routes one envelope received from a peer. Own-origin envelopes are
// skipped — the publisher already delivered locally, and re-delivering would
// break the exactly-once expectation for broadcasts.
func (r *Relay) handle(env types.Envelope) {
	if env.Origin == r.node {
		return
	}
	switch env.Scope {
	case types.ScopeBroadcast:
		r.local.Broadcast(env.Payload)
	case types.ScopeSession:
		// Not holding the session is normal: some other node owns it.
		if err := r.local.Send(env.SessionID, env.Payload); err != nil &&
			!errors.Is(err, conn.ErrNotBound) {
			slog.Warn("relay: local delivery failed",
				"session_id", env.SessionID, "err", err)
		}
	default:
		slog.Warn("relay: dropping envelope with unknown scope", "scope", env.Scope)
	}
}
