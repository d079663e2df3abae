package model

import "time"

// WebauthnPasskey is a registered WebAuthn public-key credential (spec §3).
type WebauthnPasskey struct {
	ID           int64
	UserID       int64
	CredentialID []byte
	PublicKey    []byte
	Counter      uint32
	Transports   []string
	CreatedAt    time.Time

	// Flagged marks a passkey that failed counter-monotonicity verification (spec
	// §4.4 CounterRegression) and is pending admin review. A flagged passkey cannot
	// be used to authenticate until cleared.
	Flagged bool
}

// CheckCounter enforces the monotonicity invariant from spec §3: the new counter
// must be strictly greater than the stored one; a repeat or a decrease is a
// cloned-authenticator signal. Two zero counters (authenticators that don't support
// counters) are allowed to repeat.
func (p *WebauthnPasskey) CheckCounter(newCounter uint32) bool {
	if p.Counter == 0 && newCounter == 0 {
		return true
	}

	return newCounter > p.Counter
}

// AuthenticationKeyType is the tagged variant for SSH/GPG authentication keys.
type AuthenticationKeyType string

const (
	AuthenticationKeyTypeSSH AuthenticationKeyType = "ssh"
	AuthenticationKeyTypeGPG AuthenticationKeyType = "gpg"
)

// AuthenticationKey is an SSH or GPG key associated with a user (spec §3).
type AuthenticationKey struct {
	ID          int64
	UserID      int64
	Name        string
	KeyType     AuthenticationKeyType
	Key         string
	Fingerprint string
	YubikeyID   *string
}
