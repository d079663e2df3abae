package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/defguard/defguard-core/internal/logging"
)

const (
	// queueSize is the default bounded per-connection queue capacity (spec §4.8
	// "size C, default 1024").
	queueSize = 1024

	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 16
)

// connection represents one gateway's WebSocket stream. It runs readPump and
// writePump in their own goroutines, mirroring the teacher's Client/readPump/
// writePump split so a slow gateway's network I/O never blocks the Hub.
type connection struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu          sync.RWMutex
	networkID   int64
	lastAcked   int64
	lastSeen    time.Time
	identified  bool
	needsReconcile bool
}

func newConnection(hub *Hub, conn *websocket.Conn) *connection {
	return &connection{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		lastSeen: time.Now().UTC(),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *connection) setIdentity(networkID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.networkID = networkID
	c.identified = true
}

func (c *connection) isIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.identified
}

func (c *connection) NetworkID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.networkID
}

func (c *connection) recordAck(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq > c.lastAcked {
		c.lastAcked = seq
	}
}

func (c *connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen = time.Now().UTC()
}

func (c *connection) lastSeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastSeen
}

// NeedsReconcile reports whether this connection's last known state was
// invalidated by a queue overflow and is waiting on its next Hello to receive a
// fresh Reconcile.
func (c *connection) NeedsReconcile() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.needsReconcile
}

// enqueue pushes a message onto the connection's bounded send queue. A full queue
// is backpressure (spec §4.8): the connection is terminated and a reconcile is
// scheduled for its next attempt, rather than blocking the Hub's dispatch loop.
func (c *connection) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		logging.Logger().WithField("network_id", c.NetworkID()).
			Warn("gateway connection queue full, terminating and scheduling reconcile")
		c.hub.markNeedsReconcile(c)
		c.close()

		_ = c.conn.Close()
	}
}

func (c *connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		c.touch()

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			return
		}

		switch env.Type {
		case MessageHello:
			c.hub.handleHello(c, env.Data)
		case MessageAck:
			c.hub.handleAck(c, env.Data)
		case MessageStats:
			c.hub.handleStats(c, env.Data)
		default:
			return
		}
	}
}

func (c *connection) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
