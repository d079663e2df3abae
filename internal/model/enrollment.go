package model

import "time"

// EnrollmentToken is a single-use secret granting access to the onboarding API for
// exactly one user (spec §3, §4.6).
type EnrollmentToken struct {
	Token     string
	UserID    int64
	AdminID   int64
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsValid implements the validity invariant from spec §3: valid iff
// used_at IS NULL AND now < expires_at AND user.is_active.
func (t *EnrollmentToken) IsValid(now time.Time, userActive bool) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt) && userActive
}

// Session is the authenticated-session record (spec §3).
type Session struct {
	ID                string // UUID
	UserID            int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
	MFAVerified       bool
	AdminElevated     bool
	AdminElevatedUntil *time.Time
	IP                 string
	DeviceFingerprint  string
}

// MFAMethodVariant tags the method-specific payload carried by an MFAChallenge. No
// open registration of methods: this is an exhaustive, closed set (spec §9).
type MFAMethodVariant string

const (
	MFAVariantTOTP     MFAMethodVariant = "totp"
	MFAVariantEmail    MFAMethodVariant = "email"
	MFAVariantWebauthn MFAMethodVariant = "webauthn"
	MFAVariantRecovery MFAMethodVariant = "recovery_code"
)

// MFAChallenge is the transient, server-stored record representing "password
// verified, MFA pending" (spec §3, called the pre-auth session in the glossary).
type MFAChallenge struct {
	Nonce     string
	UserID    int64
	Method    MFAMethodVariant
	IssuedAt  time.Time
	ExpiresAt time.Time

	// InFlight names the method currently mid-ceremony for this nonce, enforcing
	// "at most one method may be in-flight per pre-auth token" (spec §4.3). Empty
	// when no method has started a ceremony yet.
	InFlight MFAMethodVariant

	// FailureCount is shared across methods per spec §4.3 "Failure accounting".
	FailureCount int

	// WebauthnChallenge carries the 32 random bytes for an in-flight WebAuthn
	// ceremony (spec §4.4). Nil unless InFlight == MFAVariantWebauthn.
	WebauthnChallenge []byte

	// EmailCodeHash/EmailCodeExpiresAt/EmailCodeAttempts back the email MFA method
	// (spec §4.3): only the hash is stored, never the code itself.
	EmailCodeHash      string
	EmailCodeExpiresAt time.Time
	EmailCodeAttempts  int
}

// IsExpired reports whether the challenge has passed its wall-clock expiry. The
// server must reject expired challenges even if an in-memory task believes it's
// still alive (spec §5 "Timeouts").
func (c *MFAChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
