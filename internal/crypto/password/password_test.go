package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := Hash("correct horse battery staple")
	require.NoError(t, err)

	assert.NoError(t, Verify("correct horse battery staple", hash))
	assert.ErrorIs(t, Verify("wrong password", hash), apperrors.ErrCredentialInvalid)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	err := Verify("anything", "not-a-hash")
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}

func TestNeedsRehash(t *testing.T) {
	hash, err := Hash("secret")
	require.NoError(t, err)

	assert.False(t, NeedsRehash(hash))
	assert.True(t, NeedsRehash("$6$rounds=5000$legacyhash"))
}

func TestVerifyAgainstFakeDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		VerifyAgainstFake("any password at all")
	})
}
