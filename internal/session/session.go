package session

import (
	"errors"
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/internal/metrics"
)

// Sentinel errors returned by registry and session operations.
var (
	// ErrSessionExpired reports a rebind or delivery attempt against a
	// session that has already been destroyed. The client must start a
	// fresh session; the old ID is never silently reused.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotFound reports a lookup for a session ID this node has never
	// seen or has already forgotten.
	ErrNotFound = errors.New("session not found")
)

// Binding is the transport currently attached to a session. It is owned by
// the connection manager; the session only references it. Enqueue must not
// block: it returns an error when the peer cannot keep up, and the session
// reacts by dropping the binding.
type Binding interface {
	// ID identifies the underlying connection, used to make Unbind a no-op
	// when a stale connection disconnects after a rebind already happened.
	ID() string

	// Enqueue hands a payload to the transport's outgoing buffer.
	Enqueue(payload []byte) error

	// Replay takes ownership of the payloads parked while the session was
	// unbound. The transport must deliver them before anything handed to
	// Enqueue afterwards, regardless of its send buffer depth.
	Replay(backlog [][]byte)

	// Close tears down the transport. Safe to call more than once.
	Close()
}

// Session is one user's logical interactive state, independent of the
// physical connection currently (or not) serving it.
//
// Invariant: at most one binding is attached at any instant. All mutation
// happens under mu; the bound transport is the only writer of the UI-state
// snapshot because binding is exclusive.
type Session struct {
	ID        string
	Token     string
	CreatedAt time.Time

	mu         sync.Mutex
	binding    Binding
	lastActive time.Time
	unboundAt  time.Time // zero while bound
	destroyed  bool
	state      []byte   // latest UI-state snapshot
	pending    [][]byte // outbound messages parked while unbound
	pendingCap int
}

// Bind attaches b as the session's transport. If another transport is still
// attached (e.g. a zombie connection the liveness timer has not reaped yet),
// it is closed and replaced: the newest connection wins. Parked outbound
// messages are handed to b via Replay in their original send order, ahead of
// anything delivered after the rebind — a backlog larger than the transport's
// send buffer is still replayed in full.
//
// Bind is atomic with respect to Destroy: once a destroy has completed,
// Bind fails with ErrSessionExpired; once Bind returns nil, an idle sweep
// scheduled concurrently will observe the session as bound and skip it.
func (s *Session) Bind(b Binding, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionExpired
	}
	if s.binding != nil && s.binding.ID() != b.ID() {
		s.binding.Close()
	}
	s.binding = b
	s.unboundAt = time.Time{}
	s.lastActive = now

	if len(s.pending) > 0 {
		b.Replay(s.pending)
		s.pending = nil
	}
	return nil
}

// Unbind detaches b if it is still the current binding. A disconnect from a
// connection that was already replaced by a rebind is ignored. The session
// itself stays in the registry until the idle grace period elapses.
func (s *Session) Unbind(b Binding, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding == nil || s.binding.ID() != b.ID() {
		return
	}
	s.binding = nil
	s.unboundAt = now
}

// Deliver hands a payload to the bound transport, or parks it for replay on
// rebind when the session is currently unbound. Per-session send order is
// preserved: delivery happens under the session lock and the pending buffer
// is flushed before any post-rebind sends.
//
// A transport that cannot absorb the payload (full send buffer) is treated
// as dead: it is closed, the session transitions to unbound, and the payload
// is parked.
func (s *Session) Deliver(payload []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionExpired
	}
	if s.binding != nil {
		if err := s.binding.Enqueue(payload); err == nil {
			metrics.MessagesDelivered.Inc()
			return nil
		}
		s.binding.Close()
		s.binding = nil
		s.unboundAt = now
	}
	s.park(payload)
	return nil
}

// park appends payload to the pending buffer, dropping the oldest entry when
// the buffer is full. Newest-wins is the right bias for UI-state updates: a
// later snapshot supersedes an earlier one. Caller holds mu.
func (s *Session) park(payload []byte) {
	if s.pendingCap == 0 {
		return
	}
	if len(s.pending) >= s.pendingCap {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, payload)
	metrics.MessagesBuffered.Inc()
}

// Touch records inbound activity from the bound transport.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// SetState replaces the UI-state snapshot. Only the bound transport calls
// this, so writes never race each other.
func (s *Session) SetState(state []byte) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current UI-state snapshot.
func (s *Session) State() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bound reports whether a transport is currently attached.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding != nil
}

// LastActive returns the time of the last inbound activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// destroy marks the session dead and releases its resources. Idempotent:
// returns false if the session was already destroyed. Caller removes the
// session from the registry maps afterwards.
func (s *Session) destroy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false
	}
	s.destroyed = true
	if s.binding != nil {
		s.binding.Close()
		s.binding = nil
	}
	s.pending = nil
	s.state = nil
	return true
}

// destroyIfIdle destroys the session only if it is still unbound and its
// grace period has elapsed at now. A rebind that completed after the sweep
// selected this session makes this a no-op — that re-check is what makes
// destroy safe to race with rebind.
func (s *Session) destroyIfIdle(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.binding != nil {
		return false
	}
	if s.unboundAt.IsZero() || now.Sub(s.unboundAt) < grace {
		return false
	}
	s.destroyed = true
	s.pending = nil
	s.state = nil
	return true
}

// idleSince returns the unbind time and whether the session is a sweep
// candidate (unbound and not destroyed).
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.binding != nil || s.unboundAt.IsZero() {
		return time.Time{}, false
	}
	return s.unboundAt, true
}
