// Package network implements the WireGuard Network Model (C7): translating group
// membership into peer records, atomic address-pool allocation under a per-network
// lock, and wg-quick configuration import/export.
package network

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/configuration/validator"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/storage"
)

// Store is the subset of the Credential Store this package depends on.
type Store interface {
	GetNetwork(ctx context.Context, id int64) (*model.WireGuardNetwork, error)
	ListNetworksAllowingGroups(ctx context.Context, groups []string) ([]*model.WireGuardNetwork, error)
	AllocateAddress(ctx context.Context, networkID, deviceID int64) (net.IP, error)
	AllocateAddressTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error)
	InsertDevice(ctx context.Context, d *model.Device) error
	InsertNetwork(ctx context.Context, n *model.WireGuardNetwork) error
	ListPeers(ctx context.Context, networkID int64) ([]model.Peer, error)
}

// Service implements the C7 operations over a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ValidateNetwork checks the operational invariants (keepalive/disconnect threshold)
// before a network is created or updated; delegated to the configuration validator
// since WireGuardNetwork isn't part of the static configuration tree but shares the
// same error-format conventions.
func (s *Service) ValidateNetwork(n *model.WireGuardNetwork) error {
	return validator.ValidateNetwork(n.Name, n.KeepaliveInterval, n.PeerDisconnectThreshold)
}

// NetworksForUser returns every network the given groups make the user eligible
// for, per the group policy in spec §4.7.
func (s *Service) NetworksForUser(ctx context.Context, groups []string) ([]*model.WireGuardNetwork, error) {
	return s.store.ListNetworksAllowingGroups(ctx, groups)
}

// BindDevice allocates the next free address in the network's pool for deviceID,
// under the Store's row-level lock (spec §4.7 "the operation runs under a row-level
// lock on the network record so concurrent enrollments cannot collide").
func (s *Service) BindDevice(ctx context.Context, networkID, deviceID int64) (net.IP, error) {
	return translateAllocationError(s.store.AllocateAddress(ctx, networkID, deviceID))
}

// BindDeviceTx is BindDevice run against a transaction the caller already holds
// (spec §4.6 step 3: enrollment redemption binds every eligible network's address
// inside the same transaction that activates the user, so a later failure rolls
// every binding back too, not just the ones after it).
func (s *Service) BindDeviceTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error) {
	return translateAllocationError(s.store.AllocateAddressTx(ctx, tx, networkID, deviceID))
}

func translateAllocationError(ip net.IP, err error) (net.IP, error) {
	if err != nil {
		if errors.Is(err, storage.ErrNoAddressAvailable) {
			return nil, apperrors.ErrNoAddressAvailable
		}

		return nil, err
	}

	return ip, nil
}

// Peers returns the current peer set for a network, the input to a gateway
// Reconcile snapshot (spec §4.8).
func (s *Service) Peers(ctx context.Context, networkID int64) ([]model.Peer, error) {
	return s.store.ListPeers(ctx, networkID)
}

// GetNetwork loads a network by id, used by the gateway to authenticate an
// incoming Hello against its GatewayToken.
func (s *Service) GetNetwork(ctx context.Context, networkID int64) (*model.WireGuardNetwork, error) {
	return s.store.GetNetwork(ctx, networkID)
}

// GenerateGatewayToken produces a fresh shared secret for a network's gateway
// connections (spec §4.8 "Authentication": "each gateway presents a shared secret or
// token bound to its network id").
func GenerateGatewayToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateNetwork validates and persists a new network, generating a gateway token if
// the caller didn't supply one.
func (s *Service) CreateNetwork(ctx context.Context, n *model.WireGuardNetwork) error {
	if err := s.ValidateNetwork(n); err != nil {
		return err
	}

	if n.GatewayToken == "" {
		token, err := GenerateGatewayToken()
		if err != nil {
			return err
		}

		n.GatewayToken = token
	}

	return s.store.InsertNetwork(ctx, n)
}

// CreateNetworkDevice registers a gateway-side peer device (device_type = network),
// distinct from user devices (spec §3 Device invariant).
func (s *Service) CreateNetworkDevice(ctx context.Context, name, pubkey string) (*model.Device, error) {
	d := &model.Device{
		Name:            name,
		WireguardPubkey: pubkey,
		Created:         time.Now().UTC().Unix(),
		DeviceType:      model.DeviceTypeNetwork,
		Configured:      true,
	}

	if err := s.store.InsertDevice(ctx, d); err != nil {
		return nil, err
	}

	return d, nil
}
