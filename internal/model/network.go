package model

import (
	"net"

	mapset "github.com/deckarep/golang-set"
)

// WireGuardNetwork is the control-plane record for a WireGuard network (spec §3).
type WireGuardNetwork struct {
	ID       int64
	Name     string
	Address  []*net.IPNet
	Port     int
	Endpoint string

	AllowedIPs []*net.IPNet
	DNS        []string

	// AllowedGroups is empty for "every active user is eligible".
	AllowedGroups []string

	MFAEnabled              bool
	KeepaliveInterval       int
	PeerDisconnectThreshold int

	ACLEnabled      bool
	ACLDefaultAllow bool

	// GatewayPrivateKey is the gateway-side WireGuard private key, base64 encoded.
	GatewayPrivateKey string

	// GatewayToken is the shared secret presented by gateways connecting for this
	// network (spec §4.8 "Authentication"). Supplemental field, see SPEC_FULL.md §3.
	GatewayToken string
}

// IsGroupAllowed implements the group policy from spec §4.7: empty AllowedGroups
// means every active user is eligible, otherwise the user must belong to at least
// one listed group.
func (n *WireGuardNetwork) IsGroupAllowed(userGroups []string) bool {
	if len(n.AllowedGroups) == 0 {
		return true
	}

	allowed := mapset.NewSet()
	for _, g := range n.AllowedGroups {
		allowed.Add(g)
	}

	user := mapset.NewSet()
	for _, g := range userGroups {
		user.Add(g)
	}

	return allowed.Intersect(user).Cardinality() > 0
}

// DeviceType is the tagged variant for a Device (spec §3).
type DeviceType string

const (
	DeviceTypeUser    DeviceType = "user"
	DeviceTypeNetwork DeviceType = "network"
)

// Device is a WireGuard peer: either a user's client endpoint or a gateway peer.
type Device struct {
	ID              int64
	Name            string
	WireguardPubkey string
	UserID          *int64
	Created         int64 // unix seconds
	DeviceType      DeviceType
	Configured      bool
}

// NetworkDeviceBinding is the (network, device) -> addresses assignment (spec §3).
type NetworkDeviceBinding struct {
	NetworkID    int64
	DeviceID     int64
	WireguardIPs []net.IP
}

// Peer is the denormalized device+binding view the gateway fan-out (C8) ships to
// connected gateways: everything needed to program a WireGuard peer entry.
type Peer struct {
	DeviceID   int64
	Pubkey     string
	AllowedIPs []net.IP
}
