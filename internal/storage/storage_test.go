package storage_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/storage"
	"github.com/defguard/defguard-core/internal/storage/migrations"
)

func newTestProvider(t *testing.T) *storage.Provider {
	t.Helper()

	p, err := storage.Open(&schema.StorageConfiguration{
		Driver: "sqlite",
		SQLite: &schema.SQLiteStorageConfiguration{Path: "file::memory:?cache=shared"},
	})
	require.NoError(t, err)

	require.NoError(t, migrations.Apply(context.Background(), p.DB()))

	t.Cleanup(func() { _ = p.Close() })

	return p
}

func TestInsertNetworkAndGetNetwork(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, pool, err := net.ParseCIDR("10.10.0.0/24")
	require.NoError(t, err)

	n := &model.WireGuardNetwork{
		Name:                    "office",
		Address:                 []*net.IPNet{pool},
		Port:                    51820,
		Endpoint:                "vpn.example.com",
		KeepaliveInterval:       25,
		PeerDisconnectThreshold: 180,
		ACLDefaultAllow:         true,
	}

	require.NoError(t, p.InsertNetwork(ctx, n))
	assert.NotZero(t, n.ID)

	got, err := p.GetNetwork(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "office", got.Name)
	assert.Equal(t, 51820, got.Port)
	assert.Equal(t, 180, got.PeerDisconnectThreshold)
}

func TestListNetworksAllowingGroups(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	open := &model.WireGuardNetwork{Name: "open-net", KeepaliveInterval: 25, PeerDisconnectThreshold: 180}
	require.NoError(t, p.InsertNetwork(ctx, open))

	restricted := &model.WireGuardNetwork{
		Name: "restricted-net", AllowedGroups: []string{"admins"},
		KeepaliveInterval: 25, PeerDisconnectThreshold: 180,
	}
	require.NoError(t, p.InsertNetwork(ctx, restricted))

	visible, err := p.ListNetworksAllowingGroups(ctx, []string{"users"})
	require.NoError(t, err)

	names := make([]string, 0, len(visible))
	for _, n := range visible {
		names = append(names, n.Name)
	}

	assert.Contains(t, names, "open-net")
	assert.NotContains(t, names, "restricted-net")
}

func TestPasskeyLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	passkey := &model.WebauthnPasskey{
		UserID:       1,
		CredentialID: []byte("cred-id-1"),
		PublicKey:    []byte("pub-key-bytes"),
		Counter:      0,
		Transports:   []string{"usb", "nfc"},
		CreatedAt:    time.Now().UTC(),
	}

	require.NoError(t, p.InsertPasskey(ctx, passkey))
	assert.NotZero(t, passkey.ID)

	list, err := p.ListPasskeys(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, passkey.ID, list[0].ID)
	assert.ElementsMatch(t, []string{"usb", "nfc"}, list[0].Transports)
	assert.False(t, list[0].Flagged)

	require.NoError(t, p.UpdatePasskeyCounter(ctx, passkey.ID, 5))

	list, err = p.ListPasskeys(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 5, list[0].Counter)

	require.NoError(t, p.FlagPasskey(ctx, passkey.ID))

	list, err = p.ListPasskeys(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Flagged)
}

func TestSessionLifecycle(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	s := &model.Session{
		ID:        "sess-1",
		UserID:    1,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	require.NoError(t, p.InsertSession(ctx, s))

	got, err := p.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.UserID)

	revoked, err := p.IsRevoked(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, p.RevokeSession(ctx, "sess-1", time.Now().UTC().Add(time.Hour)))

	revoked, err = p.IsRevoked(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRecordAndCountFailedLogins(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.InsertNetwork(ctx, &model.WireGuardNetwork{
		Name: "dummy", KeepaliveInterval: 25, PeerDisconnectThreshold: 180,
	}))

	require.NoError(t, p.RecordFailedLogin(ctx, 99))
	require.NoError(t, p.RecordFailedLogin(ctx, 99))

	count, err := p.CountRecentFailures(ctx, 99, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
