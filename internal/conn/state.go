package conn

import "time"

// State is the connection state of one session, as seen by a presentation
// layer rendering a reconnect indicator.
type State int

const (
	// StateDown: no transport and no live session. Initial and terminal.
	StateDown State = iota

	// StateConnected: a transport is bound and the handshake completed.
	StateConnected

	// StateReconnecting: the transport dropped but the session is inside its
	// idle grace period and can still be rebound.
	StateReconnecting

	// StateFailed: the server rejected a rebind (session expired). The only
	// recourse is a fresh session — the client-side equivalent of a reload.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateEvent is one transition of a session's connection state. Attempt is
// the client-reported reconnect attempt count and MaxAttempts the advertised
// retry budget, so subscribers can render "reconnecting (2/3)".
//
// SessionID is empty on a Failed event when the rejected token no longer
// maps to a session.
type StateEvent struct {
	SessionID   string
	From, To    State
	Attempt     int
	MaxAttempts int
	At          time.Time
}

// StateListener receives connection-state transitions. Implementations must
// not block: events are delivered synchronously from connection goroutines.
type StateListener interface {
	OnConnectionState(ev StateEvent)
}
