package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/defguard/defguard-core/internal/model"
)

// InsertSession persists a newly created session row (spec §4.5 create).
func (p *Provider) InsertSession(ctx context.Context, s *model.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, created_at, expires_at, mfa_verified,
		                       admin_elevated, admin_elevated_until, ip, device_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := p.db.ExecContext(ctx, p.db.Rebind(query),
		s.ID, s.UserID, s.CreatedAt, s.ExpiresAt, s.MFAVerified,
		s.AdminElevated, s.AdminElevatedUntil, s.IP, s.DeviceFingerprint)

	return err
}

// GetSession loads a session by id, returning (nil, nil) if absent.
func (p *Provider) GetSession(ctx context.Context, id string) (*model.Session, error) {
	const query = `
		SELECT id, user_id, created_at, expires_at, mfa_verified, admin_elevated,
		       admin_elevated_until, ip, device_fingerprint
		FROM sessions WHERE id = ?`

	var row sessionRow

	err := p.db.GetContext(ctx, &row, p.db.Rebind(query), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return row.toSession(), nil
}

// SetAdminElevation persists the server-side elevation flag (spec §4.5:
// "promotion flag is stored server-side, not only in the cookie").
func (p *Provider) SetAdminElevation(ctx context.Context, sessionID string, until time.Time) error {
	const query = `UPDATE sessions SET admin_elevated = true, admin_elevated_until = ? WHERE id = ?`

	_, err := p.db.ExecContext(ctx, p.db.Rebind(query), until, sessionID)

	return err
}

// RevokeSession inserts sessionID into the revocation list with a TTL equal to the
// remaining session lifetime (spec §4.5).
func (p *Provider) RevokeSession(ctx context.Context, sessionID string, until time.Time) error {
	const query = `INSERT INTO revoked_sessions (session_id, revoked_until) VALUES (?, ?)`

	_, err := p.db.ExecContext(ctx, p.db.Rebind(query), sessionID, until)

	return err
}

// IsRevoked reports whether sessionID currently appears in the revocation list.
func (p *Provider) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	const query = `SELECT revoked_until FROM revoked_sessions WHERE session_id = ?`

	var until time.Time

	err := p.db.GetContext(ctx, &until, p.db.Rebind(query), sessionID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return time.Now().UTC().Before(until), nil
}

type sessionRow struct {
	ID                 string         `db:"id"`
	UserID             int64          `db:"user_id"`
	CreatedAt          time.Time      `db:"created_at"`
	ExpiresAt          time.Time      `db:"expires_at"`
	MFAVerified        bool           `db:"mfa_verified"`
	AdminElevated      bool           `db:"admin_elevated"`
	AdminElevatedUntil sql.NullTime   `db:"admin_elevated_until"`
	IP                 string         `db:"ip"`
	DeviceFingerprint  string         `db:"device_fingerprint"`
}

func (r *sessionRow) toSession() *model.Session {
	s := &model.Session{
		ID:                r.ID,
		UserID:            r.UserID,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		MFAVerified:       r.MFAVerified,
		AdminElevated:     r.AdminElevated,
		IP:                r.IP,
		DeviceFingerprint: r.DeviceFingerprint,
	}

	if r.AdminElevatedUntil.Valid {
		s.AdminElevatedUntil = &r.AdminElevatedUntil.Time
	}

	return s
}
