// Package enrollment implements the Enrollment Service (C6): admin-initiated
// single-use tokens that let a new user set a password, upload their first
// WireGuard public key, and get bound to every network their groups allow, all in
// one atomic step (spec §4.6).
package enrollment

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/crypto/password"
	"github.com/defguard/defguard-core/internal/model"
	"github.com/defguard/defguard-core/internal/network"
	"github.com/defguard/defguard-core/internal/storage"
)

const tokenTTL = 24 * time.Hour

// Store is the subset of the Credential Store this package depends on.
type Store interface {
	InsertEnrollmentToken(ctx context.Context, t *model.EnrollmentToken) error
	GetEnrollmentToken(ctx context.Context, token string) (*model.EnrollmentToken, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	RedeemEnrollmentToken(ctx context.Context, token, passwordHash string, userID int64, deviceName, devicePubkey string, fn func(tx *sqlx.Tx, deviceID int64) error) error
}

// Service drives the enrollment flow.
type Service struct {
	store   Store
	network *network.Service
}

func NewService(store Store, net *network.Service) *Service {
	return &Service{store: store, network: net}
}

// StartEnrollment generates a 128-bit URL-safe token with a 24-hour expiry (spec
// §4.6 step 1).
func (s *Service) StartEnrollment(ctx context.Context, userID, adminID int64) (*model.EnrollmentToken, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	t := &model.EnrollmentToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		AdminID:   adminID,
		CreatedAt: now,
		ExpiresAt: now.Add(tokenTTL),
	}

	if err := s.store.InsertEnrollmentToken(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

// ValidateToken checks a presented token against the stored one in constant time
// and reports whether it is currently redeemable (spec §4.6 step 2, §4.6 invariant:
// "Token comparison is constant-time").
func (s *Service) ValidateToken(ctx context.Context, presented string) (*model.EnrollmentToken, *model.User, error) {
	stored, err := s.store.GetEnrollmentToken(ctx, presented)
	if err != nil {
		return nil, nil, err
	}

	if stored == nil || subtle.ConstantTimeCompare([]byte(stored.Token), []byte(presented)) != 1 {
		return nil, nil, apperrors.ErrTokenExpired
	}

	user, err := s.store.FindUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, nil, err
	}

	if stored.UsedAt != nil {
		return nil, nil, apperrors.ErrTokenUsed
	}

	if user == nil || !stored.IsValid(time.Now().UTC(), true) {
		return nil, nil, apperrors.ErrTokenExpired
	}

	return stored, user, nil
}

// RedeemToken performs the atomic step from spec §4.6 step 3: mark the token used,
// set the password hash, activate the user, create the first device, and bind an
// address in every network the user's groups allow — all inside one transaction so
// a failure leaves no partial state and the token remains valid until it expires.
func (s *Service) RedeemToken(ctx context.Context, presented, plainPassword, deviceName, devicePubkey string, userGroups []string) error {
	stored, user, err := s.ValidateToken(ctx, presented)
	if err != nil {
		return err
	}

	hash, err := password.Hash(plainPassword)
	if err != nil {
		return err
	}

	err = s.store.RedeemEnrollmentToken(ctx, stored.Token, hash, user.ID, deviceName, devicePubkey, func(tx *sqlx.Tx, deviceID int64) error {
		networks, err := s.network.NetworksForUser(ctx, userGroups)
		if err != nil {
			return err
		}

		for _, n := range networks {
			if _, err := s.network.BindDeviceTx(ctx, tx, n.ID, deviceID); err != nil {
				return err
			}
		}

		return nil
	})

	switch {
	case errors.Is(err, storage.ErrTokenUnknown), errors.Is(err, storage.ErrTokenAlreadyUsed):
		return apperrors.ErrTokenUsed
	default:
		return err
	}
}
