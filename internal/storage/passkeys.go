package storage

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/defguard/defguard-core/internal/model"
)

// ListPasskeys returns every passkey registered to userID, satisfying
// webauthn.PasskeyStore for the C4 ceremony (spec §4.4: a discoverable-credential
// login resolves the user first, then narrows the allowed-credential list to this set).
func (p *Provider) ListPasskeys(ctx context.Context, userID int64) ([]model.WebauthnPasskey, error) {
	const query = `
		SELECT id, user_id, credential_id, public_key, counter, transports, flagged, created_at
		FROM webauthn_passkeys WHERE user_id = ?`

	var rows []passkeyRow

	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), userID); err != nil {
		return nil, err
	}

	out := make([]model.WebauthnPasskey, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPasskey())
	}

	return out, nil
}

// InsertPasskey persists a newly-registered credential (spec §4.4 FinishRegistration).
func (p *Provider) InsertPasskey(ctx context.Context, passkey *model.WebauthnPasskey) error {
	return p.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, err := nextID(ctx, tx, p.driver, "webauthn_passkeys")
		if err != nil {
			return err
		}

		passkey.ID = id

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO webauthn_passkeys
				(id, user_id, credential_id, public_key, counter, transports, flagged, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			passkey.ID, passkey.UserID, passkey.CredentialID, passkey.PublicKey,
			passkey.Counter, strings.Join(passkey.Transports, ","), passkey.Flagged, passkey.CreatedAt)

		return err
	})
}

// UpdatePasskeyCounter persists the signature counter observed in the last successful
// assertion (spec §4.4: the stored counter must advance monotonically on every use).
func (p *Provider) UpdatePasskeyCounter(ctx context.Context, passkeyID int64, counter uint32) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		UPDATE webauthn_passkeys SET counter = ? WHERE id = ?`), counter, passkeyID)

	return err
}

// FlagPasskey marks a credential as pending admin review after a counter-regression
// is detected (spec §4.4 CounterRegression), blocking it from further authentication.
func (p *Provider) FlagPasskey(ctx context.Context, passkeyID int64) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		UPDATE webauthn_passkeys SET flagged = true WHERE id = ?`), passkeyID)

	return err
}

type passkeyRow struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	CredentialID []byte    `db:"credential_id"`
	PublicKey    []byte    `db:"public_key"`
	Counter      uint32    `db:"counter"`
	Transports   string    `db:"transports"`
	Flagged      bool      `db:"flagged"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *passkeyRow) toPasskey() model.WebauthnPasskey {
	return model.WebauthnPasskey{
		ID:           r.ID,
		UserID:       r.UserID,
		CredentialID: r.CredentialID,
		PublicKey:    r.PublicKey,
		Counter:      r.Counter,
		Transports:   splitNonEmpty(r.Transports),
		Flagged:      r.Flagged,
		CreatedAt:    r.CreatedAt,
	}
}
