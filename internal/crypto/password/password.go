// Package password hashes and verifies user credentials. New hashes use Argon2id;
// accounts migrated from an LDAP backend keep their legacy SHA512-crypt hash until
// the next successful login rehashes them, mirroring the teacher's pattern of
// comparing against a fake hash for unknown users to avoid leaking existence via
// timing (see lib/auth/password.go in the teleport pack).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	legacycrypt "github.com/simia-tech/crypt"
	"golang.org/x/crypto/argon2"

	"github.com/defguard/defguard-core/internal/apperrors"
)

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// fakeHash is compared against when a user lookup fails, so that the time spent
// verifying is indistinguishable from a real account with a wrong password.
var fakeHash = mustHash("not-a-real-password-used-only-for-timing")

// Hash derives an Argon2id hash string encoding algorithm, parameters, salt and key,
// in the common "$argon2id$v=19$m=...,t=...,p=...$salt$hash" format.
func Hash(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plain), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func mustHash(plain string) string {
	h, err := Hash(plain)
	if err != nil {
		panic(err)
	}

	return h
}

// Verify checks plain against an encoded hash, supporting both Argon2id hashes
// (current) and legacy SHA512-crypt hashes (accounts with from_ldap = true that
// haven't yet been rehashed). It returns apperrors.ErrCredentialInvalid on mismatch
// or on a malformed hash, never the underlying parse error, so callers can't
// distinguish "bad hash" from "wrong password".
func Verify(plain, encoded string) error {
	var ok bool
	var err error

	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		ok, err = verifyArgon2id(plain, encoded)
	case strings.HasPrefix(encoded, "$6$"):
		ok, err = verifyLegacyCrypt(plain, encoded)
	default:
		ok, err = false, fmt.Errorf("password: unrecognized hash format")
	}

	if err != nil || !ok {
		return apperrors.ErrCredentialInvalid
	}

	return nil
}

// VerifyAgainstFake runs the full Argon2id computation against a fixed fake hash, so
// that a lookup miss on find_user_by_login costs the same wall-clock time as a real
// verification attempt.
func VerifyAgainstFake(plain string) {
	_, _ = verifyArgon2id(plain, fakeHash)
}

func verifyArgon2id(plain, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("password: malformed argon2id hash")
	}

	var memory uint32
	var time uint32
	var threads uint8

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}

	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(plain), salt, time, memory, threads, uint32(len(want)))

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// verifyLegacyCrypt verifies against a SHA512-crypt hash as produced by the prior
// LDAP-backed deployment. It is verify-only: NeedsRehash reports true for any such
// hash so the caller rehashes to Argon2id on the next successful login.
func verifyLegacyCrypt(plain, encoded string) (bool, error) {
	computed, err := legacycrypt.Crypt(plain, encoded)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(encoded)) == 1, nil
}

// NeedsRehash reports whether encoded should be replaced with a fresh Argon2id hash
// the next time the plaintext password is available (spec: password policy
// rehash-on-read for migrated accounts and for parameter upgrades).
func NeedsRehash(encoded string) bool {
	if !strings.HasPrefix(encoded, "$argon2id$") {
		return true
	}

	var memory uint32
	var time uint32
	var threads uint8

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return true
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return true
	}

	return memory != argon2Memory || time != argon2Time || threads != argon2Threads
}
