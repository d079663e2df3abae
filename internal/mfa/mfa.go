// Package mfa implements the MFA State Machine (C3): PasswordOK -> AwaitingMFA ->
// Authenticated | Failed, dispatching to TOTP, email-code, WebAuthn (delegated to
// internal/webauthn) and recovery-code verification, each sharing a single
// per-pre-auth-token failure counter and a MfaMethodBusy single-in-flight guard.
package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"math/big"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/crypto/envelope"
	"github.com/defguard/defguard-core/internal/logging"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/webauthn"
)

// UserStore is the subset of the Credential Store the MFA machine depends on.
type UserStore interface {
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	ConsumeRecoveryCode(ctx context.Context, userID int64, code string) (bool, error)
}

// Regulator is the subset of internal/regulation the MFA machine depends on.
type Regulator interface {
	Check(ctx context.Context, userID int64) error
	RecordFailure(ctx context.Context, userID int64) error
}

// Notifier emits the typed email-code event; rendering itself is out of scope (spec
// §1: "the core emits typed events and an opaque template key").
type Notifier interface {
	NotifyEmailMFACode(ctx context.Context, userID int64, code string) error
}

const maxFailures = 5 // spec §4.3 default N

// Machine orchestrates the post-password MFA step.
type Machine struct {
	preauth    *PreAuthStore
	users      UserStore
	regulator  Regulator
	notifier   Notifier
	sealer     *envelope.Sealer
	totpDigits int
	totpPeriod uint
}

func NewMachine(preauth *PreAuthStore, users UserStore, regulator Regulator, notifier Notifier, sealer *envelope.Sealer, digits, period int) *Machine {
	return &Machine{
		preauth:    preauth,
		users:      users,
		regulator:  regulator,
		notifier:   notifier,
		sealer:     sealer,
		totpDigits: digits,
		totpPeriod: uint(period),
	}
}

// Begin starts the AwaitingMFA state for a user whose password check already
// succeeded, issuing the pre-auth token described in spec §4.3.
func (m *Machine) Begin(userID int64, method model.MFAMethod, ttl time.Duration) *PreAuthSession {
	return m.preauth.Issue(userID, string(method), ttl)
}

// claimInFlight enforces "at most one method may be in-flight per pre-auth token"
// (spec §4.3 ordering guarantee), returning MfaMethodBusy on a second concurrent
// attempt.
func (m *Machine) claimInFlight(session *PreAuthSession, method string) error {
	if session.InFlight != "" && session.InFlight != method {
		return apperrors.ErrMfaMethodBusy
	}

	session.InFlight = method
	m.preauth.Save(session)

	return nil
}

func (m *Machine) releaseInFlight(session *PreAuthSession) {
	session.InFlight = ""

	// A session invalidated by success or lockout must stay gone.
	if _, ok := m.preauth.Get(session.Token); !ok {
		return
	}

	m.preauth.Save(session)
}

// recordFailure increments the shared counter and, once maxFailures is reached,
// transitions the session to Failed by invalidating its pre-auth token.
func (m *Machine) recordFailure(ctx context.Context, session *PreAuthSession) error {
	session.FailureCount++

	if session.FailureCount >= maxFailures {
		if m.regulator != nil {
			_ = m.regulator.RecordFailure(ctx, session.UserID)
		}

		m.preauth.Invalidate(session.Token)

		return apperrors.ErrCredentialInvalid
	}

	m.preauth.Save(session)

	return apperrors.ErrCredentialInvalid
}

// VerifyTOTP validates a 6-or-8-digit code against the ±1 step window (spec §4.3).
// The accepted step is recorded only on the pre-auth session, which is invalidated
// on success, so a code is not checked for reuse across separate logins.
func (m *Machine) VerifyTOTP(ctx context.Context, token, code string) (*model.User, error) {
	session, ok := m.preauth.Get(token)
	if !ok {
		return nil, apperrors.ErrChallengeUnknown
	}

	if err := m.claimInFlight(session, "totp"); err != nil {
		return nil, err
	}

	defer m.releaseInFlight(session)

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	if user == nil || !user.TOTPEnabled {
		return nil, apperrors.ErrMfaMethodDisabled
	}

	secret, err := m.sealer.Open(string(user.TOTPSecret))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIntegrityViolation, "mfa: decrypt totp secret", err)
	}

	now := time.Now().UTC()
	step := now.Unix() / int64(m.totpPeriod)

	if session.LastTOTPStep != 0 && step <= session.LastTOTPStep {
		return nil, m.recordFailure(ctx, session)
	}

	valid, err := totp.ValidateCustom(code, string(secret), now, totp.ValidateOpts{
		Period:    uint(m.totpPeriod),
		Skew:      1,
		Digits:    digitsOf(m.totpDigits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, m.recordFailure(ctx, session)
	}

	session.LastTOTPStep = step
	m.preauth.Invalidate(session.Token)

	return user, nil
}

func digitsOf(n int) otp.Digits {
	if n == 8 {
		return otp.DigitsEight
	}

	return otp.DigitsSix
}

// StartEmailChallenge generates a 6-digit code, stores hash(code)+expiry keyed by
// the pre-auth token, and asks the notifier to emit the email event (spec §4.3).
func (m *Machine) StartEmailChallenge(ctx context.Context, token string) error {
	session, ok := m.preauth.Get(token)
	if !ok {
		return apperrors.ErrChallengeUnknown
	}

	if err := m.claimInFlight(session, "email"); err != nil {
		return err
	}

	code, err := randomDigits(6)
	if err != nil {
		m.releaseInFlight(session)

		return err
	}

	session.EmailCodeHash = hashCode(code)
	session.EmailCodeExpiresAt = time.Now().UTC().Add(5 * time.Minute)
	session.EmailCodeAttempts = 0
	m.preauth.Save(session)

	if err := m.notifier.NotifyEmailMFACode(ctx, session.UserID, code); err != nil {
		logging.Logger().WithError(err).Warn("failed to emit email mfa code event")
	}

	return nil
}

// VerifyEmailCode compares code in constant time; the code is consumed on first
// success or after 3 failed attempts (spec §4.3).
func (m *Machine) VerifyEmailCode(ctx context.Context, token, code string) (*model.User, error) {
	session, ok := m.preauth.Get(token)
	if !ok {
		return nil, apperrors.ErrChallengeUnknown
	}

	if session.EmailCodeHash == "" {
		return nil, apperrors.ErrChallengeUnknown
	}

	if time.Now().UTC().After(session.EmailCodeExpiresAt) {
		m.preauth.Invalidate(session.Token)

		return nil, apperrors.ErrChallengeExpired
	}

	match := subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(session.EmailCodeHash)) == 1

	if !match {
		session.EmailCodeAttempts++
		if session.EmailCodeAttempts >= 3 {
			session.EmailCodeHash = ""
		}

		return nil, m.recordFailure(ctx, session)
	}

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	m.preauth.Invalidate(session.Token)

	return user, nil
}

// BeginWebAuthn issues a WebAuthn authentication challenge for the session's user and
// binds it to the pre-auth token so VerifyWebAuthn can find it again (spec §4.3/§4.4).
func (m *Machine) BeginWebAuthn(ctx context.Context, token string, ceremony *webauthn.Ceremony) (*protocol.CredentialAssertion, error) {
	session, ok := m.preauth.Get(token)
	if !ok {
		return nil, apperrors.ErrChallengeUnknown
	}

	if err := m.claimInFlight(session, "webauthn"); err != nil {
		return nil, err
	}

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		m.releaseInFlight(session)

		return nil, err
	}

	assertion, nonce, err := ceremony.BeginAuthentication(ctx, user)
	if err != nil {
		m.releaseInFlight(session)

		return nil, err
	}

	session.WebauthnChallenge = []byte(nonce)
	m.preauth.Save(session)

	return assertion, nil
}

// VerifyWebAuthn validates the assertion response against the challenge bound in
// BeginWebAuthn, enforcing the same shared failure counter as the other methods.
func (m *Machine) VerifyWebAuthn(ctx context.Context, token string, body []byte, ceremony *webauthn.Ceremony) (*model.User, error) {
	session, ok := m.preauth.Get(token)
	if !ok {
		return nil, apperrors.ErrChallengeUnknown
	}

	defer m.releaseInFlight(session)

	if len(session.WebauthnChallenge) == 0 {
		return nil, apperrors.ErrChallengeUnknown
	}

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	if err := ceremony.FinishAuthentication(ctx, user, string(session.WebauthnChallenge), body); err != nil {
		return nil, m.recordFailure(ctx, session)
	}

	m.preauth.Invalidate(session.Token)

	return user, nil
}

// VerifyRecoveryCode consumes one of the user's stored recovery codes (spec §4.3:
// "a recovery code never re-enables MFA by itself — it completes this one login").
func (m *Machine) VerifyRecoveryCode(ctx context.Context, token, code string) (*model.User, error) {
	session, ok := m.preauth.Get(token)
	if !ok {
		return nil, apperrors.ErrChallengeUnknown
	}

	if err := m.claimInFlight(session, "recovery_code"); err != nil {
		return nil, err
	}

	defer m.releaseInFlight(session)

	consumed, err := m.users.ConsumeRecoveryCode(ctx, session.UserID, code)
	if err != nil {
		return nil, err
	}

	if !consumed {
		return nil, m.recordFailure(ctx, session)
	}

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	m.preauth.Invalidate(session.Token)

	return user, nil
}

func randomDigits(n int) (string, error) {
	const digits = "0123456789"

	buf := make([]byte, n)

	for i := range buf {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}

		buf[i] = digits[idx.Int64()]
	}

	return string(buf), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))

	return base32.StdEncoding.EncodeToString(sum[:])
}
