// Package gateway implements the Gateway Fan-Out (C8): an authenticated,
// bidirectional WebSocket stream that pushes peer add/remove/update events to
// connected gateway processes and reconciles their state on (re)connection (spec
// §4.8).
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/logging"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/network"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(ctx *fasthttp.RequestCtx) bool { return true },
}

// Hub tracks every live gateway connection, grouped by network, and owns the
// per-network monotonic sequence counter events are stamped with (spec §4.8
// "At-least-once delivery").
type Hub struct {
	network       *network.Service
	gatewaySecret string

	mu    sync.RWMutex
	conns map[int64]map[*connection]struct{}
	seq   map[int64]int64
}

func NewHub(net *network.Service, gatewaySecret string) *Hub {
	return &Hub{
		network:       net,
		gatewaySecret: gatewaySecret,
		conns:         make(map[int64]map[*connection]struct{}),
		seq:           make(map[int64]int64),
	}
}

// Connect is the fasthttp handler for /gateway/connect (spec §4.8, §6). It
// upgrades the request and hands the connection to its own read/write pumps.
// The connection joins a network's fan-out set only after a Hello whose secret
// matches; a Hello that fails to parse or authenticate closes it.
func (h *Hub) Connect(ctx *fasthttp.RequestCtx) {
	err := upgrader.Upgrade(ctx, func(wsConn *websocket.Conn) {
		c := newConnection(h, wsConn)

		go c.writePump()
		c.readPump()
	})
	if err != nil {
		logging.Logger().WithError(err).Warn("gateway websocket upgrade failed")
	}
}

func (h *Hub) handleHello(c *connection, raw json.RawMessage) {
	var hello HelloPayload
	if err := json.Unmarshal(raw, &hello); err != nil {
		c.close()

		return
	}

	if !h.authenticate(c, hello) {
		logging.Logger().WithField("network_id", hello.NetworkID).Warn("gateway hello rejected: secret mismatch")
		c.close()

		return
	}

	c.setIdentity(hello.NetworkID)
	h.register(c)
	h.sendReconcile(context.Background(), c)
}

func (h *Hub) authenticate(c *connection, hello HelloPayload) bool {
	net, err := h.network.GetNetwork(context.Background(), hello.NetworkID)
	if err != nil || net == nil {
		return false
	}

	expected := net.GatewayToken
	if expected == "" {
		expected = h.gatewaySecret
	}

	return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(hello.Secret)) == 1
}

func (h *Hub) handleAck(c *connection, raw json.RawMessage) {
	var ack AckPayload
	if err := json.Unmarshal(raw, &ack); err != nil {
		return
	}

	c.recordAck(ack.Seq)
}

func (h *Hub) handleStats(c *connection, raw json.RawMessage) {
	c.touch()
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := c.NetworkID()

	if h.conns[id] == nil {
		h.conns[id] = make(map[*connection]struct{})
	}

	h.conns[id][c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.conns[c.NetworkID()]; ok {
		delete(set, c)

		if len(set) == 0 {
			delete(h.conns, c.NetworkID())
		}
	}
}

// markNeedsReconcile is called by a connection whose send queue overflowed (spec
// §4.8 "Backpressure"): the connection is already being torn down by the caller,
// so there's nothing further to schedule here beyond letting the gateway's next
// Hello trigger a fresh Reconcile, which register/sendReconcile already do.
func (h *Hub) markNeedsReconcile(c *connection) {
	c.mu.Lock()
	c.needsReconcile = true
	c.mu.Unlock()
}

func (h *Hub) nextSeq(networkID int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq[networkID]++

	return h.seq[networkID]
}

// sendReconcile ships a full snapshot of networkID's peers and resets the
// connection's view, per spec §4.8: sent on connect, and whenever the queue
// would have overflowed. A subsequent PeerAdded/Removed/Updated carries
// seq = N+1 where N is this reconcile's seq (spec §8 scenario 4).
func (h *Hub) sendReconcile(ctx context.Context, c *connection) {
	peers, err := h.network.Peers(ctx, c.NetworkID())
	if err != nil {
		logging.Logger().WithError(err).WithField("network_id", c.NetworkID()).Error("failed to load peers for reconcile")

		return
	}

	mutations := make([]PeerMutation, len(peers))
	for i, p := range peers {
		mutations[i] = peerMutation(p)
	}

	seq := h.nextSeq(c.NetworkID())

	msg, err := encodeEnvelope(MessageReconcile, seq, ReconcilePayload{Peers: mutations})
	if err != nil {
		return
	}

	c.mu.Lock()
	c.needsReconcile = false
	c.mu.Unlock()

	c.enqueue(msg)
}

// broadcast fans a dispatch event out to every connection currently registered
// for networkID, stamping it with the next per-network sequence number.
func (h *Hub) broadcast(networkID int64, typ MessageType, peer model.Peer) {
	seq := h.nextSeq(networkID)

	msg, err := encodeEnvelope(typ, seq, peerMutation(peer))
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := h.conns[networkID]
	targets := make([]*connection, 0, len(conns))

	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// PeerAdded notifies every gateway connected to networkID that peer is now part
// of the network.
func (h *Hub) PeerAdded(networkID int64, peer model.Peer) {
	h.broadcast(networkID, MessagePeerAdded, peer)
}

// PeerRemoved notifies every gateway connected to networkID that peer has left.
func (h *Hub) PeerRemoved(networkID int64, peer model.Peer) {
	h.broadcast(networkID, MessagePeerRemoved, peer)
}

// PeerUpdated notifies every gateway connected to networkID that peer's record
// changed (e.g. reassigned address, rotated preshared key).
func (h *Hub) PeerUpdated(networkID int64, peer model.Peer) {
	h.broadcast(networkID, MessagePeerUpdated, peer)
}

// SweepDisconnected marks every connection whose last keepalive exceeds
// threshold as disconnected by tearing it down; persistent state is untouched,
// only the in-memory peer view is dropped (spec §4.8 "Health"). Intended to be
// called periodically per network with that network's
// peer_disconnect_threshold.
func (h *Hub) SweepDisconnected(networkID int64, threshold time.Duration) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns[networkID]))

	for c := range h.conns[networkID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)

	for _, c := range conns {
		if c.lastSeenAt().Before(cutoff) {
			c.close()
		}
	}
}

// ConnectedNetworks reports which networks currently have at least one live
// gateway connection, used by health/status endpoints.
func (h *Hub) ConnectedNetworks() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]int64, 0, len(h.conns))

	for id, set := range h.conns {
		if len(set) > 0 {
			out = append(out, id)
		}
	}

	return out
}
