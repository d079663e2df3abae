package network

import (
	"context"
	"net"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/storage"
)

type fakeStore struct {
	networks  map[int64]*model.WireGuardNetwork
	nextID    int64
	peers     map[int64][]model.Peer
	allocated map[int64]net.IP
	exhausted bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		networks:  make(map[int64]*model.WireGuardNetwork),
		peers:     make(map[int64][]model.Peer),
		allocated: make(map[int64]net.IP),
	}
}

func (f *fakeStore) GetNetwork(ctx context.Context, id int64) (*model.WireGuardNetwork, error) {
	return f.networks[id], nil
}

func (f *fakeStore) ListNetworksAllowingGroups(ctx context.Context, groups []string) ([]*model.WireGuardNetwork, error) {
	var out []*model.WireGuardNetwork

	for _, n := range f.networks {
		if n.IsGroupAllowed(groups) {
			out = append(out, n)
		}
	}

	return out, nil
}

func (f *fakeStore) AllocateAddress(ctx context.Context, networkID, deviceID int64) (net.IP, error) {
	if f.exhausted {
		return nil, storage.ErrNoAddressAvailable
	}

	ip := net.ParseIP("10.0.0.2")
	f.allocated[deviceID] = ip

	return ip, nil
}

// AllocateAddressTx ignores tx since the fake has no real transactions to join; it
// exists so fakeStore satisfies Store's tx-aware allocation method used by the
// enrollment atomicity path.
func (f *fakeStore) AllocateAddressTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error) {
	return f.AllocateAddress(ctx, networkID, deviceID)
}

func (f *fakeStore) InsertDevice(ctx context.Context, d *model.Device) error {
	return nil
}

func (f *fakeStore) InsertNetwork(ctx context.Context, n *model.WireGuardNetwork) error {
	f.nextID++
	n.ID = f.nextID
	f.networks[n.ID] = n

	return nil
}

func (f *fakeStore) ListPeers(ctx context.Context, networkID int64) ([]model.Peer, error) {
	return f.peers[networkID], nil
}

func TestCreateNetworkRejectsInvalidDisconnectThreshold(t *testing.T) {
	svc := NewService(newFakeStore())

	n := &model.WireGuardNetwork{Name: "broken", KeepaliveInterval: 25, PeerDisconnectThreshold: 10}

	err := svc.CreateNetwork(context.Background(), n)
	assert.Error(t, err)
}

func TestCreateNetworkGeneratesGatewayTokenWhenMissing(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	n := &model.WireGuardNetwork{Name: "office", KeepaliveInterval: 25, PeerDisconnectThreshold: 180}

	require.NoError(t, svc.CreateNetwork(context.Background(), n))
	assert.NotEmpty(t, n.GatewayToken)
	assert.NotZero(t, n.ID)
}

func TestCreateNetworkKeepsSuppliedGatewayToken(t *testing.T) {
	svc := NewService(newFakeStore())

	n := &model.WireGuardNetwork{
		Name: "office", KeepaliveInterval: 25, PeerDisconnectThreshold: 180,
		GatewayToken: "preset-token",
	}

	require.NoError(t, svc.CreateNetwork(context.Background(), n))
	assert.Equal(t, "preset-token", n.GatewayToken)
}

func TestBindDeviceTranslatesPoolExhaustion(t *testing.T) {
	store := newFakeStore()
	store.exhausted = true
	svc := NewService(store)

	_, err := svc.BindDevice(context.Background(), 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrNoAddressAvailable)
}

func TestBindDeviceReturnsAllocatedAddress(t *testing.T) {
	svc := NewService(newFakeStore())

	ip, err := svc.BindDevice(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip.String())
}

func TestBindDeviceTxTranslatesPoolExhaustion(t *testing.T) {
	store := newFakeStore()
	store.exhausted = true
	svc := NewService(store)

	_, err := svc.BindDeviceTx(context.Background(), nil, 1, 1)
	assert.ErrorIs(t, err, apperrors.ErrNoAddressAvailable)
}

func TestNetworksForUserFiltersByGroup(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	require.NoError(t, svc.CreateNetwork(context.Background(), &model.WireGuardNetwork{
		Name: "open", KeepaliveInterval: 25, PeerDisconnectThreshold: 180,
	}))
	require.NoError(t, svc.CreateNetwork(context.Background(), &model.WireGuardNetwork{
		Name: "restricted", AllowedGroups: []string{"admins"}, KeepaliveInterval: 25, PeerDisconnectThreshold: 180,
	}))

	visible, err := svc.NetworksForUser(context.Background(), []string{"users"})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "open", visible[0].Name)
}
