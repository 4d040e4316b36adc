package api

import (
	"encoding/json"

	"github.com/relaymesh/relaymesh/internal/session"
)

// PublishRequest is the payload for POST /api/v1/publish. Scope is
// "session" (SessionID required) or "broadcast". Payload is forwarded to the
// target clients byte-for-byte.
type PublishRequest struct {
	Scope     string          `json:"scope"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// PublishResponse acknowledges an accepted publish. Fan-out is at-most-once,
// so "accepted" means handed to the relay, not confirmed delivery.
type PublishResponse struct {
	Status string `json:"status"`
}

// SessionsResponse is the payload for GET /api/v1/sessions.
type SessionsResponse struct {
	Count    int               `json:"count"`
	Sessions []session.Summary `json:"sessions"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	NodeID      string `json:"node_id"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`

	// Backplane is "ok", "degraded" (unreachable, running single-node), or
	// "disabled" (no backplane configured).
	Backplane string `json:"backplane"`
}

type errorResponse struct {
	Error string `json:"error"`
}
