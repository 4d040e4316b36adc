package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultLivenessTimeout  = 60 * time.Second
	DefaultMaxMessageSize   = 64 * 1024
	DefaultSendBuffer       = 16
	DefaultIdleGrace        = 5 * time.Second
	DefaultSweepInterval    = time.Second
	DefaultPendingBuffer    = 64
	DefaultPublishBuffer    = 256
	DefaultReconnectMin     = time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryInterval    = 5 * time.Second
	DefaultChannel          = "relaymesh:events"
)

// MaxMessageSizeCap is the hard upper bound on the configurable message size.
// Values above it are rejected at load time.
const MaxMessageSizeCap = 1 << 20

// Config holds the configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all node-level settings.
type ServerConfig struct {
	// HTTPPort is the port serving the WebSocket endpoint, the REST API and
	// the metrics endpoint (default 8080).
	HTTPPort int `yaml:"http_port"`

	// NodeID identifies this node on the backplane. Defaults to a generated
	// UUID; set it only when stable node identity matters (e.g. log slicing).
	NodeID string `yaml:"node_id"`

	// Transport configures the per-connection protocol limits.
	Transport TransportConfig `yaml:"transport"`

	// Session controls session retention after disconnect.
	Session SessionConfig `yaml:"session"`

	// Backplane configures the cross-node relay. Leave RedisURL empty to run
	// in single-node mode.
	Backplane BackplaneConfig `yaml:"backplane"`

	// Retry is the reconnect policy advertised to clients in the handshake.
	Retry RetryConfig `yaml:"retry"`
}

// TransportConfig holds per-connection protocol limits.
type TransportConfig struct {
	// HandshakeTimeout is how long a fresh connection may take to complete
	// the hello/welcome exchange before it is dropped (default 30s).
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// LivenessTimeout is how long a connection may stay silent (no data, no
	// pong) before it is declared dead (default 60s).
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`

	// MaxMessageSize is the largest inbound or outbound message in bytes
	// (default 64KB, hard cap 1MB). Oversized inbound messages close the
	// connection rather than being fragmented.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// SendBuffer is the per-connection outgoing message buffer depth
	// (default 16). A client that cannot drain it is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

// SessionConfig controls session retention.
type SessionConfig struct {
	// IdleGrace is how long an unbound session is retained before
	// destruction (default 5s). Deliberately short: reconnect tolerance is
	// traded against memory pressure from abandoned sessions.
	IdleGrace time.Duration `yaml:"idle_grace"`

	// SweepInterval is how often the idle supervisor scans for expired
	// sessions (default 1s).
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// PendingBuffer is how many outbound messages are buffered for an
	// unbound session and replayed on rebind (default 64, drop-oldest).
	PendingBuffer int `yaml:"pending_buffer"`
}

// BackplaneConfig configures the Redis pub/sub relay.
type BackplaneConfig struct {
	// RedisURL is a redis:// URL. Empty disables the backplane entirely
	// (single-node mode).
	RedisURL string `yaml:"redis_url"`

	// Channel is the pub/sub channel shared by all nodes
	// (default "relaymesh:events").
	Channel string `yaml:"channel"`

	// PublishBuffer is how many envelopes are queued while the backplane is
	// unreachable (default 256, drop-oldest). The queue is flushed after
	// reconnect.
	PublishBuffer int `yaml:"publish_buffer"`

	// ReconnectMin and ReconnectMax bound the exponential backoff between
	// reconnection attempts (defaults 1s and 30s).
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// RetryConfig is the client reconnect policy advertised in the handshake.
type RetryConfig struct {
	// Attempts is how many reconnects the client should try before giving
	// up and restarting the session (default 3).
	Attempts int `yaml:"attempts"`

	// Interval is the pause between client reconnect attempts (default 5s).
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Transport: TransportConfig{
				HandshakeTimeout: DefaultHandshakeTimeout,
				LivenessTimeout:  DefaultLivenessTimeout,
				MaxMessageSize:   DefaultMaxMessageSize,
				SendBuffer:       DefaultSendBuffer,
			},
			Session: SessionConfig{
				IdleGrace:     DefaultIdleGrace,
				SweepInterval: DefaultSweepInterval,
				PendingBuffer: DefaultPendingBuffer,
			},
			Backplane: BackplaneConfig{
				Channel:       DefaultChannel,
				PublishBuffer: DefaultPublishBuffer,
				ReconnectMin:  DefaultReconnectMin,
				ReconnectMax:  DefaultReconnectMax,
			},
			Retry: RetryConfig{
				Attempts: DefaultRetryAttempts,
				Interval: DefaultRetryInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.Transport.HandshakeTimeout <= 0 {
		return fmt.Errorf("server.transport.handshake_timeout must be positive")
	}
	if s.Transport.LivenessTimeout <= 0 {
		return fmt.Errorf("server.transport.liveness_timeout must be positive")
	}
	if s.Transport.MaxMessageSize <= 0 || s.Transport.MaxMessageSize > MaxMessageSizeCap {
		return fmt.Errorf("server.transport.max_message_size %d is out of range [1, %d]",
			s.Transport.MaxMessageSize, MaxMessageSizeCap)
	}
	if s.Transport.SendBuffer <= 0 {
		return fmt.Errorf("server.transport.send_buffer must be positive")
	}
	if s.Session.IdleGrace <= 0 {
		return fmt.Errorf("server.session.idle_grace must be positive")
	}
	if s.Session.SweepInterval <= 0 {
		return fmt.Errorf("server.session.sweep_interval must be positive")
	}
	if s.Session.PendingBuffer < 0 {
		return fmt.Errorf("server.session.pending_buffer must not be negative")
	}
	if s.Backplane.PublishBuffer < 0 {
		return fmt.Errorf("server.backplane.publish_buffer must not be negative")
	}
	if s.Backplane.ReconnectMin <= 0 || s.Backplane.ReconnectMax < s.Backplane.ReconnectMin {
		return fmt.Errorf("server.backplane reconnect bounds invalid: min=%v max=%v",
			s.Backplane.ReconnectMin, s.Backplane.ReconnectMax)
	}
	if s.Retry.Attempts <= 0 {
		return fmt.Errorf("server.retry.attempts must be positive")
	}
	if s.Retry.Interval <= 0 {
		return fmt.Errorf("server.retry.interval must be positive")
	}
	return nil
}
