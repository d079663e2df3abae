// Package session implements the Session Manager (C5): signed session cookies,
// admin elevation, revocation, and logout. Signing uses golang-jwt/jwt/v4 as a
// symmetric authenticated container over {session_id, user_id, expires_at,
// mfa_verified, admin_elevated}, matching the teacher's reliance on
// golang-jwt/jwt for its own session/token handling.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/model"
)

// Store is the subset of the Credential Store this package depends on.
type Store interface {
	InsertSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SetAdminElevation(ctx context.Context, sessionID string, until time.Time) error
	RevokeSession(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Claims is the signed payload carried by the session cookie. Its fields are
// exactly the set named in spec §4.5.
type Claims struct {
	jwt.RegisteredClaims
	SessionID     string `json:"sid"`
	UserID        int64  `json:"uid"`
	MFAVerified   bool   `json:"mfa"`
	AdminElevated bool   `json:"adm"`
}

// Manager issues, verifies, elevates and revokes sessions.
type Manager struct {
	store          Store
	secret         []byte
	lifetime       time.Duration
	elevationTTL   time.Duration
	cookieName     string
	cookieDomain   string
	cookieInsecure bool
}

func NewManager(store Store, secret []byte, lifetime, elevationTTL time.Duration, cookieName, cookieDomain string, cookieInsecure bool) *Manager {
	return &Manager{
		store:          store,
		secret:         secret,
		lifetime:       lifetime,
		elevationTTL:   elevationTTL,
		cookieName:     cookieName,
		cookieDomain:   cookieDomain,
		cookieInsecure: cookieInsecure,
	}
}

// Create allocates a session row and returns the signed cookie value (spec §4.5
// "create(user, mfa_state): allocates session row; sets mfa_verified iff method
// completed").
func (m *Manager) Create(ctx context.Context, userID int64, mfaVerified bool, ip, deviceFingerprint string) (string, *model.Session, error) {
	now := time.Now().UTC()

	s := &model.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.lifetime),
		MFAVerified:       mfaVerified,
		IP:                ip,
		DeviceFingerprint: deviceFingerprint,
	}

	if err := m.store.InsertSession(ctx, s); err != nil {
		return "", nil, err
	}

	cookie, err := m.sign(s)
	if err != nil {
		return "", nil, err
	}

	return cookie, s, nil
}

func (m *Manager) sign(s *model.Session) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		},
		SessionID:     s.ID,
		UserID:        s.UserID,
		MFAVerified:   s.MFAVerified,
		AdminElevated: s.AdminElevated,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(m.secret)
}

// Verify checks the cookie's signature and expiry, rejects revoked sessions, and
// re-reads the live admin-elevation flag from storage (spec §4.5: "verification
// rejects on signature failure, expiry, or revocation list hit"; elevation flag is
// authoritative server-side, not trusted from the cookie alone).
func (m *Manager) Verify(ctx context.Context, cookie string) (*model.Session, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(cookie, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}

		return m.secret, nil
	})
	if err != nil {
		return nil, apperrors.ErrCredentialInvalid
	}

	revoked, err := m.store.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if revoked {
		return nil, apperrors.ErrCredentialInvalid
	}

	s, err := m.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if s == nil || time.Now().UTC().After(s.ExpiresAt) {
		return nil, apperrors.ErrCredentialInvalid
	}

	if s.AdminElevated && s.AdminElevatedUntil != nil && time.Now().UTC().After(*s.AdminElevatedUntil) {
		s.AdminElevated = false
	}

	return s, nil
}

// ElevateAdmin requires the session to already be mfa_verified; the caller is
// responsible for checking admin-group membership first (spec §4.5: "requires the
// user to be in the admin group AND mfa_verified").
func (m *Manager) ElevateAdmin(ctx context.Context, s *model.Session) (string, error) {
	if !s.MFAVerified {
		return "", apperrors.ErrMfaRequired
	}

	until := time.Now().UTC().Add(m.elevationTTL)

	if err := m.store.SetAdminElevation(ctx, s.ID, until); err != nil {
		return "", err
	}

	s.AdminElevated = true
	s.AdminElevatedUntil = &until

	return m.sign(s)
}

// Revoke inserts the session into the revocation list for the remainder of its
// lifetime.
func (m *Manager) Revoke(ctx context.Context, s *model.Session) error {
	return m.store.RevokeSession(ctx, s.ID, s.ExpiresAt)
}

// Logout revokes the session; the caller clears the cookie at the HTTP boundary.
func (m *Manager) Logout(ctx context.Context, s *model.Session) error {
	return m.Revoke(ctx, s)
}

// CookieName returns the configured session cookie name for handler wiring.
func (m *Manager) CookieName() string { return m.cookieName }

// CookieDomain returns the configured cookie domain.
func (m *Manager) CookieDomain() string { return m.cookieDomain }

// CookieInsecure reports whether the Secure flag should be omitted (dev override).
func (m *Manager) CookieInsecure() bool { return m.cookieInsecure }
