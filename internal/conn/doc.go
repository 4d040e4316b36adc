// Package conn implements the connection manager: ownership of every
// WebSocket transport on the node.
//
// A fresh connection must complete a JSON hello/welcome handshake within the
// handshake timeout; the hello optionally carries a resume token that
// rebinds an existing session instead of creating a new one. After the
// handshake, inbound frames are UI-event payloads handed to the configured
// MessageHandler and outbound frames are UI-update payloads delivered
// through Send/Broadcast in per-session send order.
//
// The manager enforces the three transport limits from the configuration:
// handshake deadline, liveness deadline (refreshed by data, pings and
// pongs; server pings at 9/10 of the window), and max message size
// (oversized inbound frames close the connection; the session survives,
// unbound).
//
// Connection-state transitions ({down, connected, reconnecting, failed})
// are published to StateListener subscribers so a presentation layer can
// drive a reconnect indicator.
package conn
