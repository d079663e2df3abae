// Package model defines the persisted entities of the authentication and
// VPN-enrollment core (spec §3). Entities are plain structs; no behaviour beyond
// small invariant helpers lives here, mutation goes through internal/storage.
package model

import "time"

// MFAMethod is the tagged variant for a user's selected second factor.
// MFAMethodNone means no method is selected / MFA is not required for this user.
type MFAMethod string

const (
	MFAMethodNone     MFAMethod = "none"
	MFAMethodTOTP     MFAMethod = "totp"
	MFAMethodWebauthn MFAMethod = "webauthn"
	MFAMethodEmail    MFAMethod = "email"

	// mfaMethodWeb3Deprecated is a historical value seen in one legacy query
	// (spec §9 Open Questions). Accepted on read, rejected on write.
	mfaMethodWeb3Deprecated MFAMethod = "web3"
)

// NormalizeMFAMethodRead maps a raw mfa_method column value into a known MFAMethod, treating
// the deprecated "web3" value as MFAMethodNone. Callers that read this value should
// log a warning when deprecated is true.
func NormalizeMFAMethodRead(raw string) (method MFAMethod, deprecated bool) {
	switch MFAMethod(raw) {
	case mfaMethodWeb3Deprecated:
		return MFAMethodNone, true
	case MFAMethodTOTP, MFAMethodWebauthn, MFAMethodEmail, MFAMethodNone:
		return MFAMethod(raw), false
	default:
		return MFAMethodNone, false
	}
}

// ValidForWrite reports whether m is one of the methods this system will ever persist.
func (m MFAMethod) ValidForWrite() bool {
	switch m {
	case MFAMethodNone, MFAMethodTOTP, MFAMethodWebauthn, MFAMethodEmail:
		return true
	default:
		return false
	}
}

// User is the Credential Store's central entity (spec §3).
type User struct {
	ID       int64
	Username string
	Email    string

	// PasswordHash is nil for LDAP-only accounts that never set a local password.
	PasswordHash *string

	FirstName string
	LastName  string
	Phone     string

	IsActive bool

	MFAEnabled bool
	MFAMethod  MFAMethod

	TOTPEnabled bool
	// TOTPSecret is the envelope-encrypted TOTP seed. Never exposed outside the MFA
	// state machine.
	TOTPSecret []byte

	EmailMFAEnabled bool
	EmailMFASecret  []byte

	// RecoveryCodes is ordered; consumption removes an entry in place, preserving the
	// order of the remainder (spec §8 scenario 2).
	RecoveryCodes []string

	FromLDAP           bool
	LDAPPassRandomized bool
	OpenIDSubject       string

	// Groups backs WireGuardNetwork.AllowedGroups membership checks (§4.7) and admin
	// elevation (§4.5). Supplemental field, see SPEC_FULL.md §3.
	Groups []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMFACredential reports whether any MFA credential is configured, independent of
// the passkeys slice (which lives in storage and is checked by callers that hold it).
func (u *User) HasMFACredential(hasPasskey bool) bool {
	return u.TOTPEnabled || u.EmailMFAEnabled || hasPasskey
}

// MFAEnabledInvariantHolds checks the invariant from spec §3:
// mfa_enabled ⇔ at least one of {totp_enabled, email_mfa_enabled, ≥1 passkey}.
func (u *User) MFAEnabledInvariantHolds(hasPasskey bool) bool {
	return u.MFAEnabled == u.HasMFACredential(hasPasskey)
}

// IsAdmin reports whether the user belongs to the configured admin group.
func (u *User) IsAdmin(adminGroupName string) bool {
	for _, g := range u.Groups {
		if g == adminGroupName {
			return true
		}
	}

	return false
}

// InAnyGroup reports whether the user belongs to at least one of the given groups.
func (u *User) InAnyGroup(groups []string) bool {
	if len(groups) == 0 {
		return true
	}

	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
	}

	for _, g := range u.Groups {
		if _, ok := set[g]; ok {
			return true
		}
	}

	return false
}
