package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/session"
)

type fakeStore struct {
	sessions map[string]*model.Session
	revoked  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*model.Session), revoked: make(map[string]time.Time)}
}

func (f *fakeStore) InsertSession(ctx context.Context, s *model.Session) error {
	cp := *s
	f.sessions[s.ID] = &cp

	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}

	cp := *s

	return &cp, nil
}

func (f *fakeStore) SetAdminElevation(ctx context.Context, sessionID string, until time.Time) error {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}

	s.AdminElevated = true
	s.AdminElevatedUntil = &until

	return nil
}

func (f *fakeStore) RevokeSession(ctx context.Context, sessionID string, until time.Time) error {
	f.revoked[sessionID] = until

	return nil
}

func (f *fakeStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	_, ok := f.revoked[sessionID]

	return ok, nil
}

func newTestManager() (*session.Manager, *fakeStore) {
	store := newFakeStore()

	return session.NewManager(store, []byte("a-test-signing-secret"), time.Hour, 10*time.Minute, "defguard_session", "", false), store
}

func TestCreateAndVerifyRoundTrip(t *testing.T) {
	m, _ := newTestManager()

	cookie, created, err := m.Create(context.Background(), 42, false, "127.0.0.1", "fingerprint")
	require.NoError(t, err)
	require.NotEmpty(t, cookie)

	got, err := m.Verify(context.Background(), cookie)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(42), got.UserID)
	assert.False(t, got.MFAVerified)
}

func TestVerifyRejectsTamperedCookie(t *testing.T) {
	m, _ := newTestManager()

	cookie, _, err := m.Create(context.Background(), 42, false, "", "")
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), cookie+"tampered")
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}

func TestVerifyRejectsRevokedSession(t *testing.T) {
	m, _ := newTestManager()

	cookie, created, err := m.Create(context.Background(), 42, false, "", "")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), created))

	_, err = m.Verify(context.Background(), cookie)
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}

func TestElevateAdminRequiresMFAVerified(t *testing.T) {
	m, _ := newTestManager()

	_, created, err := m.Create(context.Background(), 42, false, "", "")
	require.NoError(t, err)

	_, err = m.ElevateAdmin(context.Background(), created)
	assert.ErrorIs(t, err, apperrors.ErrMfaRequired)
}

func TestElevateAdminSucceedsWhenMFAVerified(t *testing.T) {
	m, _ := newTestManager()

	_, created, err := m.Create(context.Background(), 42, true, "", "")
	require.NoError(t, err)

	cookie, err := m.ElevateAdmin(context.Background(), created)
	require.NoError(t, err)
	assert.True(t, created.AdminElevated)

	got, err := m.Verify(context.Background(), cookie)
	require.NoError(t, err)
	assert.True(t, got.AdminElevated)
}

func TestLogoutRevokesSession(t *testing.T) {
	m, store := newTestManager()

	cookie, created, err := m.Create(context.Background(), 42, false, "", "")
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), created))
	assert.Contains(t, store.revoked, created.ID)

	_, err = m.Verify(context.Background(), cookie)
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}
