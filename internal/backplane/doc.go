// Package backplane relays session-targeted and broadcast messages across a
// cluster of nodes through a shared pub/sub medium.
//
// The Relay is the routing layer: application publishes go to the local
// connection manager first and to the Bus only when another node owns the
// target; envelopes arriving from peers are filtered by origin so a
// broadcast reaches each client exactly once. Fan-out is at-most-once —
// duplicate suppression and ordering across scopes belong to the layers
// above.
//
// RedisBus is the production Bus. It degrades instead of failing: while
// Redis is unreachable the node keeps serving its local sessions, parked
// publishes accumulate in a bounded drop-oldest queue, and a background
// loop probes the server with exponential backoff, flushing the queue on
// reconnect. MemoryBus is the in-process Bus used by tests and available
// for single-binary multi-node setups.
package backplane
