package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout is the deadline for a single write to a client.
const writeTimeout = 10 * time.Second

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// client is one connected WebSocket transport. It implements
// session.Binding: the session enqueues outbound payloads, the writePump
// drains them in order.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// backlog holds messages parked while the session was unbound, staged by
	// Replay before the write pump starts. Written before anything from send.
	backlog [][]byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, sendBuf int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuf),
		done: make(chan struct{}),
	}
}

// ID returns the connection ID.
func (c *client) ID() string { return c.id }

// Enqueue hands a payload to the write pump without blocking. A full buffer
// means the client is not draining fast enough and is treated as dead by
// the caller.
func (c *client) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Replay stages parked session messages to be written ahead of everything
// enqueued after the rebind. It runs during Bind, before the write pump
// starts, so the backlog is never bounded by the send channel's capacity.
func (c *client) Replay(backlog [][]byte) {
	c.backlog = backlog
}

// Close tears down the transport. In-flight sends that have not reached the
// write pump are abandoned, not retried. Safe to call more than once.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send channel and forwards messages to the WebSocket
// connection, sending periodic ping frames to probe liveness. Runs in its
// own goroutine per connection.
func (c *client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// The replay backlog goes out first; messages enqueued after the rebind
	// sit in send until it is drained, preserving session send order.
	for _, msg := range c.backlog {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.backlog = nil

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
