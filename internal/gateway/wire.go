package gateway

import (
	"encoding/json"

	"github.com/defguard/defguard-core/internal/model"
)

// MessageType tags the envelope carried over the gateway stream (spec §4.8, §6).
type MessageType string

const (
	// Inbound, gateway -> server.
	MessageHello MessageType = "hello"
	MessageAck   MessageType = "ack"
	MessageStats MessageType = "stats"

	// Outbound, server -> gateway.
	MessagePeerAdded   MessageType = "peer_added"
	MessagePeerRemoved MessageType = "peer_removed"
	MessagePeerUpdated MessageType = "peer_updated"
	MessageReconcile   MessageType = "reconcile"
)

// Envelope is the wire format for every message on the stream. Seq is only set on
// outbound dispatch messages (PeerAdded/PeerRemoved/PeerUpdated/Reconcile); it is
// the monotonic per-network sequence number gateways ack (spec §4.8).
type Envelope struct {
	Type MessageType     `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloPayload authenticates an inbound connection to exactly one network (spec
// §4.8 "Authentication").
type HelloPayload struct {
	NetworkID int64  `json:"network_id"`
	Secret    string `json:"secret"`
}

// AckPayload acknowledges delivery up to and including Seq.
type AckPayload struct {
	Seq int64 `json:"seq"`
}

// StatsPayload is the gateway's periodic health/telemetry report; the server only
// uses it to keep the connection's last-seen timestamp current (spec §4.8
// "Health").
type StatsPayload struct {
	ConnectedPeers int `json:"connected_peers"`
}

// PeerMutation is the payload for PeerAdded/PeerRemoved/PeerUpdated.
type PeerMutation struct {
	DeviceID   int64    `json:"device_id"`
	Pubkey     string   `json:"pubkey"`
	AllowedIPs []string `json:"allowed_ips"`
}

// ReconcilePayload is a full snapshot superseding any earlier delta history (spec
// §4.8 "Reconcile").
type ReconcilePayload struct {
	Peers []PeerMutation `json:"peers"`
}

func peerMutation(p model.Peer) PeerMutation {
	ips := make([]string, len(p.AllowedIPs))
	for i, ip := range p.AllowedIPs {
		ips[i] = ip.String()
	}

	return PeerMutation{DeviceID: p.DeviceID, Pubkey: p.Pubkey, AllowedIPs: ips}
}

func encodeEnvelope(typ MessageType, seq int64, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{Type: typ, Seq: seq, Data: data})
}
