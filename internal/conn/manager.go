package conn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/pkg/types"
)

// Sentinel errors for the send contract.
var (
	// ErrNotBound reports a send to a session ID this node does not hold.
	ErrNotBound = errors.New("session not bound on this node")

	// ErrSizeExceeded reports a payload larger than the negotiated limit.
	// Oversized messages are rejected rather than fragmented, to bound
	// memory use under hostile input.
	ErrSizeExceeded = errors.New("message size exceeded")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RetryPolicy is the reconnect policy advertised to clients in the welcome
// frame. It is caller-supplied and hot-reloadable.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// Options configures a Manager.
type Options struct {
	// HandshakeTimeout bounds the hello/welcome exchange on a fresh
	// connection (default 30s).
	HandshakeTimeout time.Duration

	// LivenessTimeout is how long a connection may stay silent before it is
	// declared dead (default 60s). Pings are sent at 9/10 of this window.
	LivenessTimeout time.Duration

	// MaxMessageSize is the per-message byte limit in both directions.
	MaxMessageSize int64

	// SendBuffer is the per-connection outgoing buffer depth.
	SendBuffer int

	// Retry is the initial client retry policy.
	Retry RetryPolicy
}

// MessageHandler consumes inbound UI-event payloads. It runs on the
// connection's read goroutine, so one session's handler never blocks
// another session's traffic.
type MessageHandler func(sess *session.Session, payload []byte)

// Manager owns all WebSocket transports on this node. It accepts
// connections, runs the handshake, enforces the handshake/liveness/size
// limits, binds transports to sessions, and delivers outbound payloads in
// per-session send order.
type Manager struct {
	registry *session.Registry
	opts     Options
	handler  MessageHandler

	retry atomic.Pointer[RetryPolicy]

	mu      sync.RWMutex
	clients map[*client]struct{}

	stateMu   sync.Mutex
	states    map[string]State
	listeners []StateListener
}

// NewManager creates a Manager serving sessions from registry. handler
// receives every post-handshake inbound payload; nil is allowed.
func NewManager(registry *session.Registry, opts Options, handler MessageHandler) *Manager {
	m := &Manager{
		registry: registry,
		opts:     opts,
		handler:  handler,
		clients:  make(map[*client]struct{}),
		states:   make(map[string]State),
	}
	retry := opts.Retry
	m.retry.Store(&retry)

	// Sessions destroyed by the idle supervisor (or explicitly) go Down.
	registry.OnDestroy(func(id string) {
		m.transition(id, StateDown, 0)
	})
	return m
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (m *Manager) Run(ctx context.Context) {
	<-ctx.Done()
	m.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket, performs the
// handshake, binds the session, and serves the connection until it closes.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	connID := uuid.NewString()
	ws.SetReadLimit(m.opts.MaxMessageSize)

	sess, hello, ok := m.handshake(ws, connID)
	if !ok {
		ws.Close()
		return
	}

	c := newClient(connID, ws, m.opts.SendBuffer)
	if err := sess.Bind(c, time.Now()); err != nil {
		// Destroy completed between CreateOrRebind and Bind.
		m.reject(ws, types.ReasonSessionExpired)
		metrics.HandshakeFailures.WithLabelValues("session_expired").Inc()
		m.transitionFailed("", hello.Attempt)
		ws.Close()
		return
	}

	m.register(c)
	defer m.unregister(c)
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	m.transition(sess.ID, StateConnected, hello.Attempt)
	slog.Info("connection bound",
		"conn_id", connID, "session_id", sess.ID, "resumed", hello.Token != "")

	go c.writePump(m.pingPeriod())
	m.readPump(c, sess) // blocks until the connection closes

	m.onDisconnect(c, sess, hello.Attempt)
}

// Send delivers payload to the session with the given ID, preserving
// per-session send order. It returns ErrNotBound when this node does not
// hold the session, ErrSizeExceeded when payload exceeds the negotiated
// limit, and nil when the payload was delivered or parked for replay.
func (m *Manager) Send(sessionID string, payload []byte) error {
	if int64(len(payload)) > m.opts.MaxMessageSize {
		return ErrSizeExceeded
	}
	sess, err := m.registry.Lookup(sessionID)
	if err != nil {
		return ErrNotBound
	}
	if err := sess.Deliver(payload, time.Now()); err != nil {
		return ErrNotBound
	}
	return nil
}

// Broadcast delivers payload to every connected client on this node.
// Clients whose send buffer is full are disconnected, matching the slow
// client policy of Send.
func (m *Manager) Broadcast(payload []byte) {
	m.mu.RLock()
	targets := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := c.Enqueue(payload); err != nil {
			c.Close()
		} else {
			metrics.MessagesDelivered.Inc()
		}
	}
}

// Count returns the number of currently connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SetRetryPolicy replaces the retry policy advertised to new connections.
// Used by config hot reload; existing connections keep the advice they
// already received.
func (m *Manager) SetRetryPolicy(p RetryPolicy) {
	m.retry.Store(&p)
}

// SubscribeState registers a listener for connection-state transitions.
func (m *Manager) SubscribeState(l StateListener) {
	m.stateMu.Lock()
	m.listeners = append(m.listeners, l)
	m.stateMu.Unlock()
}

// --- handshake ----------------------------------------------------------------

// handshake reads and answers the hello frame. On failure the reject frame
// (when applicable) has been written and ok is false; the caller closes.
func (m *Manager) handshake(ws *websocket.Conn, connID string) (*session.Session, types.ClientHello, bool) {
	var hello types.ClientHello

	ws.SetReadDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		reason := "bad_handshake"
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			reason = "timeout"
		}
		metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		slog.Warn("handshake failed", "conn_id", connID, "reason", reason, "err", err)
		return nil, hello, false
	}

	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != types.FrameHello {
		m.reject(ws, types.ReasonBadHandshake)
		metrics.HandshakeFailures.WithLabelValues("bad_handshake").Inc()
		return nil, hello, false
	}
	if hello.Protocol != types.ProtocolVersion {
		m.reject(ws, types.ReasonBadProtocol)
		metrics.HandshakeFailures.WithLabelValues("bad_protocol").Inc()
		return nil, hello, false
	}

	sess, resumed, err := m.registry.CreateOrRebind(hello.Token)
	if err != nil {
		m.reject(ws, types.ReasonSessionExpired)
		metrics.HandshakeFailures.WithLabelValues("session_expired").Inc()
		m.transitionFailed("", hello.Attempt)
		slog.Info("rebind rejected", "conn_id", connID, "attempt", hello.Attempt)
		return nil, hello, false
	}
	if resumed {
		metrics.SessionsRebound.Inc()
	}

	retry := *m.retry.Load()
	welcome := types.ServerWelcome{
		Type:           types.FrameWelcome,
		SessionID:      sess.ID,
		Token:          sess.Token,
		MaxMessageSize: m.opts.MaxMessageSize,
		Resumed:        resumed,
		Retry: types.RetryAdvice{
			Attempts:   retry.Attempts,
			IntervalMS: int(retry.Interval / time.Millisecond),
		},
	}
	data, err := json.Marshal(welcome)
	if err != nil {
		return nil, hello, false
	}
	ws.SetWriteDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.HandshakeFailures.WithLabelValues("timeout").Inc()
		return nil, hello, false
	}
	return sess, hello, true
}

func (m *Manager) reject(ws *websocket.Conn, reason string) {
	data, err := json.Marshal(types.ServerReject{Type: types.FrameReject, Reason: reason})
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteMessage(websocket.TextMessage, data) //nolint:errcheck
}

// --- connection serving -------------------------------------------------------

// readPump reads frames from the connection until it closes or the liveness
// deadline expires. Any inbound frame or pong counts as a liveness signal.
func (m *Manager) readPump(c *client, sess *session.Session) {
	defer c.conn.Close()

	refresh := func() {
		c.conn.SetReadDeadline(time.Now().Add(m.opts.LivenessTimeout))
	}
	refresh()
	c.conn.SetPongHandler(func(string) error { refresh(); return nil })
	pingHandler := c.conn.PingHandler()
	c.conn.SetPingHandler(func(appData string) error {
		refresh()
		return pingHandler(appData)
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseMessageTooBig) ||
				errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("closing connection: inbound message too large",
					"conn_id", c.id, "session_id", sess.ID, "limit", m.opts.MaxMessageSize)
			}
			return
		}
		refresh()
		sess.Touch(time.Now())
		if m.handler != nil {
			m.handler(sess, payload)
		}
	}
}

// onDisconnect runs after the read loop exits: the session is unbound (not
// destroyed) so the client can rebind within the grace period.
func (m *Manager) onDisconnect(c *client, sess *session.Session, attempt int) {
	c.Close()
	m.registry.Unbind(sess.ID, c)

	// A session the registry no longer holds has already gone Down via the
	// destroy hook.
	if _, err := m.registry.Lookup(sess.ID); err == nil {
		m.transition(sess.ID, StateReconnecting, attempt)
	}
	slog.Info("connection closed", "conn_id", c.id, "session_id", sess.ID)
}

// --- state machine ------------------------------------------------------------

// transition moves sessionID to state to, notifying subscribers. Terminal
// states drop the tracking entry.
func (m *Manager) transition(sessionID string, to State, attempt int) {
	retry := *m.retry.Load()

	m.stateMu.Lock()
	from := m.states[sessionID]
	if from == to {
		m.stateMu.Unlock()
		return
	}
	if to == StateDown || to == StateFailed {
		delete(m.states, sessionID)
	} else {
		m.states[sessionID] = to
	}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.stateMu.Unlock()

	ev := StateEvent{
		SessionID:   sessionID,
		From:        from,
		To:          to,
		Attempt:     attempt,
		MaxAttempts: retry.Attempts,
		At:          time.Now(),
	}
	for _, l := range listeners {
		l.OnConnectionState(ev)
	}
}

// transitionFailed emits a Failed event for a rebind the server rejected.
// sessionID may be empty when the token no longer maps to a session; a
// session with no tracked state (already destroyed, or never connected here)
// reports From as Down.
func (m *Manager) transitionFailed(sessionID string, attempt int) {
	retry := *m.retry.Load()

	m.stateMu.Lock()
	from := m.states[sessionID]
	delete(m.states, sessionID)
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.stateMu.Unlock()

	ev := StateEvent{
		SessionID:   sessionID,
		From:        from,
		To:          StateFailed,
		Attempt:     attempt,
		MaxAttempts: retry.Attempts,
		At:          time.Now(),
	}
	for _, l := range listeners {
		l.OnConnectionState(ev)
	}
}

// --- internal -----------------------------------------------------------------

func (m *Manager) register(c *client) {
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	for c := range m.clients {
		c.Close()
	}
	m.mu.Unlock()
}

func (m *Manager) pingPeriod() time.Duration {
	// Must be less than the liveness window so a healthy client always has
	// a pong in flight before the deadline.
	return m.opts.LivenessTimeout * 9 / 10
}
