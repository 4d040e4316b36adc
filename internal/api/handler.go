package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaymesh/relaymesh/internal/backplane"
	"github.com/relaymesh/relaymesh/internal/conn"
	"github.com/relaymesh/relaymesh/internal/session"
)

// Handler is the HTTP handler for all /api/v1/* endpoints: the publish
// ingress for application logic and the read-only node introspection
// routes.
type Handler struct {
	registry *session.Registry
	relay    *backplane.Relay
	manager  *conn.Manager
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(registry *session.Registry, relay *backplane.Relay, manager *conn.Manager) http.Handler {
	h := &Handler{
		registry: registry,
		relay:    relay,
		manager:  manager,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/publish", h.publish)
	h.mux.HandleFunc("/api/v1/sessions", h.sessions)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// publish handles POST /api/v1/publish — application logic pushing a
// UI-update payload to one session or to everyone.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Payload) == 0 {
		jsonErr(w, http.StatusBadRequest, "payload is required")
		return
	}

	switch req.Scope {
	case "broadcast":
		// A dead backplane costs only the remote audience; the publish is
		// still accepted.
		h.relay.Broadcast(r.Context(), req.Payload) //nolint:errcheck
		jsonResp(w, http.StatusAccepted, PublishResponse{Status: "accepted"})

	case "session":
		if req.SessionID == "" {
			jsonErr(w, http.StatusBadRequest, "session_id is required for session scope")
			return
		}
		err := h.relay.Send(r.Context(), req.SessionID, req.Payload)
		switch {
		case err == nil:
			jsonResp(w, http.StatusAccepted, PublishResponse{Status: "accepted"})
		case errors.Is(err, conn.ErrSizeExceeded):
			jsonErr(w, http.StatusRequestEntityTooLarge, "payload exceeds max message size")
		case errors.Is(err, conn.ErrNotBound):
			jsonErr(w, http.StatusNotFound, "session not found on this node")
		default:
			jsonErr(w, http.StatusInternalServerError, err.Error())
		}

	default:
		jsonErr(w, http.StatusBadRequest, "scope must be session or broadcast")
	}
}

// sessions handles GET /api/v1/sessions — all live sessions on this node.
func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := h.registry.List()
	jsonResp(w, http.StatusOK, SessionsResponse{
		Count:    len(list),
		Sessions: list,
	})
}

// health handles GET /api/v1/health — node identity, load, backplane state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, HealthResponse{
		NodeID:      h.relay.Node(),
		Sessions:    h.registry.Count(),
		Connections: h.manager.Count(),
		Backplane:   h.relay.Status(),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
