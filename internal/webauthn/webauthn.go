// Package webauthn wraps go-webauthn/webauthn to implement the WebAuthn Ceremony
// (C4): a three-message begin/challenge/response exchange for both registration and
// authentication, with server-side challenge binding, counter-monotonicity
// enforcement, and credential-id uniqueness.
package webauthn

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	gowebauthn "github.com/go-webauthn/webauthn/webauthn"
	cache "github.com/patrickmn/go-cache"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
)

const challengeTTL = 5 * time.Minute

// PasskeyStore is the subset of the Credential Store this package depends on.
type PasskeyStore interface {
	ListPasskeys(ctx context.Context, userID int64) ([]model.WebauthnPasskey, error)
	InsertPasskey(ctx context.Context, passkey *model.WebauthnPasskey) error
	UpdatePasskeyCounter(ctx context.Context, passkeyID int64, counter uint32) error
	FlagPasskey(ctx context.Context, passkeyID int64) error
}

// Ceremony drives registration and authentication ceremonies for a single relying
// party, derived from the external URL per spec §4.4.
type Ceremony struct {
	wa         *gowebauthn.WebAuthn
	passkeys   PasskeyStore
	challenges *cache.Cache // nonce -> *gowebauthn.SessionData, single-use via Delete-on-read
}

// New derives the RP id from externalURL's host component (spec §4.4). There is no
// separate RP id setting; the id always follows externalURL.
func New(externalURL, displayName, conveyancePreference, userVerification string, passkeys PasskeyStore) (*Ceremony, error) {
	parsed, err := url.Parse(externalURL)
	if err != nil {
		return nil, fmt.Errorf("webauthn: invalid external url: %w", err)
	}

	wa, err := gowebauthn.New(&gowebauthn.Config{
		RPDisplayName: displayName,
		RPID:          parsed.Hostname(),
		RPOrigin:      fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host),
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.UserVerificationRequirement(userVerification),
		},
		AttestationPreference: protocol.ConveyancePreference(conveyancePreference),
	})
	if err != nil {
		return nil, err
	}

	return &Ceremony{
		wa:         wa,
		passkeys:   passkeys,
		challenges: cache.New(challengeTTL, challengeTTL/2),
	}, nil
}

type ceremonyUser struct {
	user     *model.User
	passkeys []model.WebauthnPasskey
}

func (u *ceremonyUser) WebAuthnID() []byte          { return idBytes(u.user.ID) }
func (u *ceremonyUser) WebAuthnName() string        { return u.user.Username }
func (u *ceremonyUser) WebAuthnDisplayName() string  { return u.user.FirstName + " " + u.user.LastName }
func (u *ceremonyUser) WebAuthnIcon() string         { return "" }

func (u *ceremonyUser) WebAuthnCredentials() []gowebauthn.Credential {
	out := make([]gowebauthn.Credential, 0, len(u.passkeys))

	for _, p := range u.passkeys {
		out = append(out, gowebauthn.Credential{
			ID:        p.CredentialID,
			PublicKey: p.PublicKey,
			Authenticator: gowebauthn.Authenticator{
				SignCount: p.Counter,
			},
		})
	}

	return out
}

func idBytes(id int64) []byte {
	b := make([]byte, 8)

	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * i))
	}

	return b
}

// BeginRegistration issues a registration challenge bound to a single-use nonce.
func (c *Ceremony) BeginRegistration(ctx context.Context, user *model.User) (*protocol.CredentialCreation, string, error) {
	passkeys, err := c.passkeys.ListPasskeys(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	cu := &ceremonyUser{user: user, passkeys: passkeys}

	creation, session, err := c.wa.BeginRegistration(cu)
	if err != nil {
		return nil, "", err
	}

	nonce := string(session.Challenge)
	c.challenges.Set(nonce, session, challengeTTL)

	return creation, nonce, nil
}

// FinishRegistration validates the attestation response and persists a new passkey.
// body is the raw JSON response body from the client.
func (c *Ceremony) FinishRegistration(ctx context.Context, user *model.User, nonce string, body []byte) (*model.WebauthnPasskey, error) {
	sessionVal, ok := c.challenges.Get(nonce)
	if !ok {
		return nil, apperrors.ErrChallengeExpired
	}

	c.challenges.Delete(nonce)

	session := sessionVal.(*gowebauthn.SessionData)

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindChallengeUnknown, "webauthn: parse registration response", err)
	}

	passkeys, err := c.passkeys.ListPasskeys(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	cu := &ceremonyUser{user: user, passkeys: passkeys}

	credential, err := c.wa.CreateCredential(cu, *session, parsed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindChallengeUnknown, "webauthn: verify attestation", err)
	}

	passkey := &model.WebauthnPasskey{
		UserID:       user.ID,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		Counter:      credential.Authenticator.SignCount,
		CreatedAt:    time.Now().UTC(),
	}

	if err := c.passkeys.InsertPasskey(ctx, passkey); err != nil {
		return nil, err
	}

	return passkey, nil
}

// BeginAuthentication issues an authentication challenge against the user's
// registered passkeys.
func (c *Ceremony) BeginAuthentication(ctx context.Context, user *model.User) (*protocol.CredentialAssertion, string, error) {
	passkeys, err := c.passkeys.ListPasskeys(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	if len(passkeys) == 0 {
		return nil, "", apperrors.ErrMfaMethodDisabled
	}

	cu := &ceremonyUser{user: user, passkeys: passkeys}

	assertion, session, err := c.wa.BeginLogin(cu)
	if err != nil {
		return nil, "", err
	}

	nonce := string(session.Challenge)
	c.challenges.Set(nonce, session, challengeTTL)

	return assertion, nonce, nil
}

// FinishAuthentication validates the assertion, enforcing counter monotonicity (spec
// §3 WebAuthn Passkey invariant: a decrease is a cloned-authenticator signal and
// fails the ceremony).
func (c *Ceremony) FinishAuthentication(ctx context.Context, user *model.User, nonce string, body []byte) error {
	sessionVal, ok := c.challenges.Get(nonce)
	if !ok {
		return apperrors.ErrChallengeExpired
	}

	c.challenges.Delete(nonce)

	session := sessionVal.(*gowebauthn.SessionData)

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindChallengeUnknown, "webauthn: parse assertion response", err)
	}

	passkeys, err := c.passkeys.ListPasskeys(ctx, user.ID)
	if err != nil {
		return err
	}

	cu := &ceremonyUser{user: user, passkeys: passkeys}

	credential, err := c.wa.ValidateLogin(cu, *session, parsed)
	if err != nil {
		return apperrors.Wrap(apperrors.KindChallengeUnknown, "webauthn: verify assertion", err)
	}

	var matched *model.WebauthnPasskey

	for i := range passkeys {
		if bytes.Equal(passkeys[i].CredentialID, credential.ID) {
			matched = &passkeys[i]

			break
		}
	}

	if matched == nil {
		return apperrors.ErrChallengeUnknown
	}

	if !matched.CheckCounter(credential.Authenticator.SignCount) {
		_ = c.passkeys.FlagPasskey(ctx, matched.ID)

		return apperrors.ErrCounterRegression
	}

	return c.passkeys.UpdatePasskeyCounter(ctx, matched.ID, credential.Authenticator.SignCount)
}
