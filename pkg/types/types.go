package types

// Frame type discriminators for the handshake exchange. The first frame a
// client sends must be a hello; the server answers with exactly one welcome
// or reject and, in the reject case, closes the connection.
const (
	FrameHello   = "hello"
	FrameWelcome = "welcome"
	FrameReject  = "reject"
)

// ProtocolVersion is the only protocol revision this server speaks. A hello
// carrying any other version is rejected with ReasonBadProtocol.
const ProtocolVersion = 1

// Reject reasons sent to the client before closing.
const (
	ReasonSessionExpired = "session_expired"
	ReasonBadProtocol    = "bad_protocol"
	ReasonBadHandshake   = "bad_handshake"
)

// ClientHello is the first frame on a new connection. Token is empty for a
// fresh session and carries the resume token from a previous welcome when
// the client is reconnecting. Attempt is the client's reconnect attempt
// counter (0 on first connect), echoed into connection-state events so a
// presentation layer can render "reconnecting (2/3)".
type ClientHello struct {
	Type     string `json:"type"`
	Protocol int    `json:"protocol"`
	Token    string `json:"token,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// ServerWelcome completes the handshake. Resumed reports whether the token
// matched an existing session (true) or a fresh session was created (false).
type ServerWelcome struct {
	Type           string      `json:"type"`
	SessionID      string      `json:"session_id"`
	Token          string      `json:"token"`
	MaxMessageSize int64       `json:"max_message_size"`
	Resumed        bool        `json:"resumed"`
	Retry          RetryAdvice `json:"retry"`
}

// RetryAdvice tells the client how to behave when the connection drops:
// reconnect up to Attempts times, IntervalMS apart, then give up and perform
// a full session restart (the moral equivalent of a page reload).
type RetryAdvice struct {
	Attempts   int `json:"attempts"`
	IntervalMS int `json:"interval_ms"`
}

// ServerReject is sent instead of a welcome when the handshake cannot be
// honored. The connection is closed immediately afterwards.
type ServerReject struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Scope selects the audience of a relayed envelope.
type Scope string

const (
	// ScopeSession targets a single session by ID.
	ScopeSession Scope = "session"

	// ScopeBroadcast targets every bound session on every node.
	ScopeBroadcast Scope = "broadcast"
)

// Envelope is the unit relayed across the backplane. Origin is the node ID
// of the publisher; subscribers skip envelopes they published themselves,
// since the publishing node already delivered locally. Delivery is
// at-most-once and ordered per scope only.
type Envelope struct {
	Scope     Scope  `json:"scope"`
	SessionID string `json:"session_id,omitempty"`
	Origin    string `json:"origin"`
	Payload   []byte `json:"payload"`
}
