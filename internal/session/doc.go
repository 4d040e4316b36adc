// Package session implements the session registry and the idle supervisor.
//
// A Session is one user's logical interactive state, decoupled from the
// physical connection serving it. The Registry tracks live sessions in a
// sharded concurrent map (never a single global lock) and resolves resume
// tokens on reconnect. At most one transport is bound to a session at any
// instant; while unbound, outbound messages are parked in a bounded buffer
// and replayed in order on rebind.
//
// The Supervisor sweeps the registry on an interval and destroys sessions
// that stayed unbound past the idle grace period. Rebind and destroy are
// atomic with respect to each other: a completed destroy fails subsequent
// rebinds with ErrSessionExpired, and a completed rebind makes a scheduled
// destroy a no-op.
package session
