// Package types defines the wire-level types shared by the server, the
// backplane relay, and (eventually) client libraries: the handshake frames
// exchanged over a fresh WebSocket connection and the envelope relayed
// between cluster nodes.
package types
