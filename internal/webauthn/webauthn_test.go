package webauthn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
)

type fakePasskeyStore struct {
	passkeys map[int64][]model.WebauthnPasskey
	flagged  map[int64]bool
	counters map[int64]uint32
}

func newFakePasskeyStore() *fakePasskeyStore {
	return &fakePasskeyStore{
		passkeys: make(map[int64][]model.WebauthnPasskey),
		flagged:  make(map[int64]bool),
		counters: make(map[int64]uint32),
	}
}

func (f *fakePasskeyStore) ListPasskeys(ctx context.Context, userID int64) ([]model.WebauthnPasskey, error) {
	return f.passkeys[userID], nil
}

func (f *fakePasskeyStore) InsertPasskey(ctx context.Context, passkey *model.WebauthnPasskey) error {
	f.passkeys[passkey.UserID] = append(f.passkeys[passkey.UserID], *passkey)

	return nil
}

func (f *fakePasskeyStore) UpdatePasskeyCounter(ctx context.Context, passkeyID int64, counter uint32) error {
	f.counters[passkeyID] = counter

	return nil
}

func (f *fakePasskeyStore) FlagPasskey(ctx context.Context, passkeyID int64) error {
	f.flagged[passkeyID] = true

	return nil
}

func newTestCeremony(t *testing.T, store PasskeyStore) *Ceremony {
	t.Helper()

	c, err := New("https://vpn.example.com", "Example VPN", "direct", "preferred", store)
	require.NoError(t, err)

	return c
}

func TestNewDerivesRPIDFromExternalURL(t *testing.T) {
	c := newTestCeremony(t, newFakePasskeyStore())
	assert.Equal(t, "vpn.example.com", c.wa.Config.RPID)
}

func TestBeginAuthenticationRejectsUserWithNoPasskeys(t *testing.T) {
	c := newTestCeremony(t, newFakePasskeyStore())

	user := &model.User{ID: 1, Username: "alice"}

	_, _, err := c.BeginAuthentication(context.Background(), user)
	assert.ErrorIs(t, err, apperrors.ErrMfaMethodDisabled)
}

func TestBeginAuthenticationIssuesSingleUseNonce(t *testing.T) {
	store := newFakePasskeyStore()
	store.passkeys[1] = []model.WebauthnPasskey{
		{ID: 1, UserID: 1, CredentialID: []byte("cred-1"), PublicKey: []byte("pub-1")},
	}

	c := newTestCeremony(t, store)

	user := &model.User{ID: 1, Username: "alice"}

	assertion, nonce, err := c.BeginAuthentication(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.NotNil(t, assertion)

	_, ok := c.challenges.Get(nonce)
	assert.True(t, ok)
}

func TestFinishAuthenticationRejectsUnknownNonce(t *testing.T) {
	c := newTestCeremony(t, newFakePasskeyStore())

	user := &model.User{ID: 1, Username: "alice"}

	err := c.FinishAuthentication(context.Background(), user, "does-not-exist", []byte(`{}`))
	assert.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestFinishAuthenticationIsSingleUse(t *testing.T) {
	store := newFakePasskeyStore()
	store.passkeys[1] = []model.WebauthnPasskey{
		{ID: 1, UserID: 1, CredentialID: []byte("cred-1"), PublicKey: []byte("pub-1")},
	}

	c := newTestCeremony(t, store)

	user := &model.User{ID: 1, Username: "alice"}

	_, nonce, err := c.BeginAuthentication(context.Background(), user)
	require.NoError(t, err)

	// First attempt fails on a malformed body, but the nonce is still consumed.
	err = c.FinishAuthentication(context.Background(), user, nonce, []byte(`not json`))
	kind, ok := apperrors.Of(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindChallengeUnknown, kind)

	// Replaying the same nonce now reports it expired, not re-parsed.
	err = c.FinishAuthentication(context.Background(), user, nonce, []byte(`not json`))
	assert.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestFinishRegistrationRejectsUnknownNonce(t *testing.T) {
	c := newTestCeremony(t, newFakePasskeyStore())

	user := &model.User{ID: 1, Username: "alice"}

	_, err := c.FinishRegistration(context.Background(), user, "does-not-exist", []byte(`{}`))
	assert.ErrorIs(t, err, apperrors.ErrChallengeExpired)
}

func TestFinishRegistrationRejectsMalformedBody(t *testing.T) {
	store := newFakePasskeyStore()
	c := newTestCeremony(t, store)

	user := &model.User{ID: 1, Username: "alice", FirstName: "Alice", LastName: "Doe"}

	_, nonce, err := c.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	_, err = c.FinishRegistration(context.Background(), user, nonce, []byte(`not json`))
	kind, ok := apperrors.Of(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindChallengeUnknown, kind)
}
