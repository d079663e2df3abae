package enrollment

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/network"
	"github.com/defguard/defguard-core/internal/storage"
)

type fakeStore struct {
	tokens map[string]*model.EnrollmentToken
	users  map[int64]*model.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: make(map[string]*model.EnrollmentToken),
		users:  make(map[int64]*model.User),
	}
}

func (f *fakeStore) InsertEnrollmentToken(ctx context.Context, t *model.EnrollmentToken) error {
	cp := *t
	f.tokens[t.Token] = &cp

	return nil
}

func (f *fakeStore) GetEnrollmentToken(ctx context.Context, token string) (*model.EnrollmentToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}

	cp := *t

	return &cp, nil
}

func (f *fakeStore) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}

	return u, nil
}

func (f *fakeStore) RedeemEnrollmentToken(ctx context.Context, token, passwordHash string, userID int64, deviceName, devicePubkey string, fn func(tx *sqlx.Tx, deviceID int64) error) error {
	t, ok := f.tokens[token]
	if !ok {
		return storage.ErrTokenUnknown
	}

	if t.UsedAt != nil {
		return storage.ErrTokenAlreadyUsed
	}

	now := time.Now().UTC()
	t.UsedAt = &now

	if u, ok := f.users[userID]; ok {
		u.IsActive = true
		u.PasswordHash = &passwordHash
	}

	return fn(nil, 1)
}

type fakeNetworkStore struct{}

func (fakeNetworkStore) GetNetwork(ctx context.Context, id int64) (*model.WireGuardNetwork, error) {
	return nil, nil
}

func (fakeNetworkStore) ListNetworksAllowingGroups(ctx context.Context, groups []string) ([]*model.WireGuardNetwork, error) {
	return nil, nil
}

func (fakeNetworkStore) AllocateAddress(ctx context.Context, networkID, deviceID int64) (net.IP, error) {
	return net.ParseIP("10.0.0.2"), nil
}

func (fakeNetworkStore) AllocateAddressTx(ctx context.Context, tx *sqlx.Tx, networkID, deviceID int64) (net.IP, error) {
	return net.ParseIP("10.0.0.2"), nil
}

func (fakeNetworkStore) InsertDevice(ctx context.Context, d *model.Device) error {
	return nil
}

func (fakeNetworkStore) ListPeers(ctx context.Context, networkID int64) ([]model.Peer, error) {
	return nil, nil
}

func (fakeNetworkStore) InsertNetwork(ctx context.Context, n *model.WireGuardNetwork) error {
	return nil
}

func newTestService() (*Service, *fakeStore) {
	fs := newFakeStore()
	netSvc := network.NewService(fakeNetworkStore{})

	return NewService(fs, netSvc), fs
}

func TestStartEnrollmentGeneratesValidToken(t *testing.T) {
	svc, fs := newTestService()

	tok, err := svc.StartEnrollment(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, int64(42), tok.UserID)
	assert.WithinDuration(t, time.Now().UTC().Add(tokenTTL), tok.ExpiresAt, 5*time.Second)
	assert.Contains(t, fs.tokens, tok.Token)
}

func TestValidateTokenRejectsUnknownToken(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.ValidateToken(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestValidateTokenRejectsUsedToken(t *testing.T) {
	svc, fs := newTestService()

	used := time.Now().UTC()
	fs.tokens["tok"] = &model.EnrollmentToken{
		Token: "tok", UserID: 1, ExpiresAt: time.Now().UTC().Add(time.Hour), UsedAt: &used,
	}
	fs.users[1] = &model.User{ID: 1, IsActive: false}

	_, _, err := svc.ValidateToken(context.Background(), "tok")
	assert.ErrorIs(t, err, apperrors.ErrTokenUsed)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	svc, fs := newTestService()

	fs.tokens["tok"] = &model.EnrollmentToken{
		Token: "tok", UserID: 1, ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	fs.users[1] = &model.User{ID: 1, IsActive: true}

	_, _, err := svc.ValidateToken(context.Background(), "tok")
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestRedeemTokenActivatesUserAndSetsPassword(t *testing.T) {
	svc, fs := newTestService()

	fs.tokens["tok"] = &model.EnrollmentToken{
		Token: "tok", UserID: 7, ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	fs.users[7] = &model.User{ID: 7, IsActive: false}

	err := svc.RedeemToken(context.Background(), "tok", "s3cret-passphrase", "laptop", "pubkey==", nil)
	require.NoError(t, err)

	assert.True(t, fs.users[7].IsActive)
	require.NotNil(t, fs.users[7].PasswordHash)
	assert.NotEmpty(t, *fs.users[7].PasswordHash)
	assert.NotNil(t, fs.tokens["tok"].UsedAt)
}

func TestRedeemTokenRejectsAlreadyUsedToken(t *testing.T) {
	svc, fs := newTestService()

	used := time.Now().UTC()
	fs.tokens["tok"] = &model.EnrollmentToken{
		Token: "tok", UserID: 7, ExpiresAt: time.Now().UTC().Add(time.Hour), UsedAt: &used,
	}
	fs.users[7] = &model.User{ID: 7, IsActive: true}

	err := svc.RedeemToken(context.Background(), "tok", "s3cret-passphrase", "laptop", "pubkey==", nil)
	assert.ErrorIs(t, err, apperrors.ErrTokenUsed)
}
