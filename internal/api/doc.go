// Package api implements the HTTP surface for application logic and
// operators.
//
// POST /api/v1/publish pushes a UI-update payload to one session
// ({"scope":"session","session_id":...,"payload":...}) or to every client
// on every node ({"scope":"broadcast","payload":...}). Delivery is
// at-most-once; 202 means accepted by the relay.
//
// GET /api/v1/sessions lists the sessions this node holds.
// GET /api/v1/health reports node identity, session/connection counts, and
// backplane state (ok | degraded | disabled).
package api
