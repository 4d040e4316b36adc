package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks live sessions in the registry, bound or not.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaymesh_sessions_active",
		Help: "Number of live sessions in the registry.",
	})

	// ActiveConnections tracks currently bound transport connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaymesh_connections_active",
		Help: "Number of open WebSocket connections.",
	})

	// SessionsRebound counts successful rebinds of an existing session to a
	// new transport.
	SessionsRebound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_sessions_rebound_total",
		Help: "Sessions reattached to a new transport after a disconnect.",
	})

	// SessionsExpired counts sessions destroyed by the idle supervisor.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_sessions_expired_total",
		Help: "Sessions destroyed after the idle grace period elapsed.",
	})

	// MessagesDelivered counts payloads handed to a bound transport.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_messages_delivered_total",
		Help: "Messages enqueued to a bound transport.",
	})

	// MessagesBuffered counts payloads parked for an unbound session.
	MessagesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_messages_buffered_total",
		Help: "Messages buffered for an unbound session pending rebind.",
	})

	// HandshakeFailures counts handshakes that did not reach welcome,
	// labeled by reason (timeout, bad_protocol, session_expired, ...).
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaymesh_handshake_failures_total",
		Help: "Connections dropped before completing the handshake.",
	}, []string{"reason"})

	// BackplanePublished counts envelopes successfully published.
	BackplanePublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_backplane_published_total",
		Help: "Envelopes published to the backplane.",
	})

	// BackplaneQueued counts envelopes parked while the backplane is down.
	BackplaneQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_backplane_queued_total",
		Help: "Envelopes queued while the backplane was unreachable.",
	})

	// BackplaneDropped counts envelopes lost to queue overflow.
	BackplaneDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_backplane_dropped_total",
		Help: "Envelopes dropped from the degraded-mode queue on overflow.",
	})

	// BackplaneReceived counts envelopes delivered by the subscriber.
	BackplaneReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaymesh_backplane_received_total",
		Help: "Envelopes received from peer nodes.",
	})
)

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
