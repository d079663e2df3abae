// Package storage implements the Credential Store (C1): persisted users, password
// hashes, MFA seeds, recovery codes, WebAuthn passkeys, authentication keys, and the
// WireGuard network/device/enrollment/session tables that the rest of the core reads
// and writes. It wraps jmoiron/sqlx over one of three drivers (postgres, mysql,
// sqlite) selected by schema.StorageConfiguration.Driver, the way the teacher's
// storage providers are selected by configuration rather than compiled separately.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/logging"
	"github.com/defguard/defguard-core/internal/model"
)

// caseFold normalizes an email's case the same way regardless of which SQL driver's
// lower() a given deployment runs (sqlite's is ASCII-only; Unicode-aware folding
// otherwise happens inconsistently across drivers), so FindUserByLogin's in-query
// lower() comparison is comparing against an already-folded value.
var caseFold = cases.Fold()

// Provider is the Credential Store's contract, implemented over any of the three
// supported SQL drivers. All mutating operations run inside a transaction (spec
// §4.1 "All mutating operations run inside a transaction; no partial commits"),
// exposed here via the WithTx helper rather than a per-call transaction argument.
type Provider struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured storage backend and pings it once to fail fast on
// misconfiguration, mirroring the teacher's provider construction pattern of
// resolving a concrete driver at startup rather than per-request.
func Open(cfg *schema.StorageConfiguration) (*Provider, error) {
	dsn, driverName, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driverName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping %s: %w", driverName, err)
	}

	logging.Logger().WithField("driver", driverName).Info("storage connection established")

	return &Provider{db: db, driver: driverName}, nil
}

func dsnFor(cfg *schema.StorageConfiguration) (dsn string, driverName string, err error) {
	switch {
	case cfg.Postgres != nil:
		p := cfg.Postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			p.Username, p.Password, p.Host, p.Port, p.Database, sslModeOrDefault(p.SSLMode)), "pgx", nil
	case cfg.MySQL != nil:
		m := cfg.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			m.Username, m.Password, m.Host, m.Port, m.Database), "mysql", nil
	case cfg.SQLite != nil:
		return cfg.SQLite.Path, "sqlite3", nil
	default:
		return "", "", fmt.Errorf("storage: no driver configured")
	}
}

func sslModeOrDefault(mode string) string {
	if mode == "" {
		return "disable"
	}

	return mode
}

// Close releases the underlying connection pool.
func (p *Provider) Close() error {
	return p.db.Close()
}

// DB exposes the underlying *sqlx.DB for packages (migrations) that need raw access.
func (p *Provider) DB() *sqlx.DB {
	return p.db
}

// WithTx runs fn inside a transaction, committing on nil return and rolling back
// otherwise, honoring the spec's "all mutating operations run inside a transaction;
// no partial commits" requirement uniformly.
func (p *Provider) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

// FindUserByLogin matches against username, email (case-insensitive) or phone, per
// spec §4.1. It returns (nil, nil) on no match — lookup absence is not an error.
func (p *Provider) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	const query = `
		SELECT id, username, email, password_hash, first_name, last_name, phone,
		       is_active, mfa_enabled, mfa_method, totp_enabled, totp_secret,
		       email_mfa_enabled, email_mfa_secret, from_ldap, ldap_pass_randomized,
		       openid_sub, created_at, updated_at
		FROM users
		WHERE username = ? OR lower(email) = lower(?) OR phone = ?`

	var row userRow

	folded := caseFold.String(login)

	err := p.db.GetContext(ctx, &row, p.db.Rebind(query), login, folded, login)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return p.withGroups(ctx, row.toUser())
}

// FindUserByID looks up a user by primary key, used across MFA/session/enrollment
// flows once a user_id is already known from a prior step.
func (p *Provider) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `
		SELECT id, username, email, password_hash, first_name, last_name, phone,
		       is_active, mfa_enabled, mfa_method, totp_enabled, totp_secret,
		       email_mfa_enabled, email_mfa_secret, from_ldap, ldap_pass_randomized,
		       openid_sub, created_at, updated_at
		FROM users WHERE id = ?`

	var row userRow

	err := p.db.GetContext(ctx, &row, p.db.Rebind(query), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return p.withGroups(ctx, row.toUser())
}

// withGroups loads u's group assignments from user_groups and attaches them, the
// join FindUserByLogin/FindUserByID both need so every caller sees a consistent
// User.Groups rather than relying on each query to duplicate the join.
func (p *Provider) withGroups(ctx context.Context, u *model.User) (*model.User, error) {
	groups, err := p.GroupsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	u.Groups = groups

	return u, nil
}

// RecordFailedLogin increments the sliding-window failure counter exposed to the MFA
// state machine's lockout accounting (spec §4.1/§4.3); it does not itself lock the
// account.
func (p *Provider) RecordFailedLogin(ctx context.Context, userID int64) error {
	const query = `
		INSERT INTO login_failures (id, user_id, occurred_at) VALUES (?, ?, ?)`

	return p.WithTx(ctx, func(tx *sqlx.Tx) error {
		id, err := nextID(ctx, tx, p.driver, "login_failures")
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(query), id, userID, time.Now().UTC())

		return err
	})
}

// CountRecentFailures returns the number of failures recorded for userID within the
// given window, backing the MFA machine's per-user lockout counter.
func (p *Provider) CountRecentFailures(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `SELECT count(*) FROM login_failures WHERE user_id = ? AND occurred_at >= ?`

	var count int

	err := p.db.GetContext(ctx, &count, p.db.Rebind(query), userID, since)

	return count, err
}

// UpdatePasswordHash rewrites a user's stored hash, used by the login handler for
// rehash-on-read (spec §4.2 "needs_rehash").
func (p *Provider) UpdatePasswordHash(ctx context.Context, tx *sqlx.Tx, userID int64, hash string) error {
	const query = `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`

	_, err := tx.ExecContext(ctx, tx.Rebind(query), hash, time.Now().UTC(), userID)

	return err
}

// ConsumeRecoveryCode atomically removes code from the user's recovery_codes list
// under a row-level lock, returning false if the code was not present (already
// consumed or never issued). Grounded on spec §5's row-level-lock requirement for
// the recovery-code race.
func (p *Provider) ConsumeRecoveryCode(ctx context.Context, userID int64, code string) (bool, error) {
	var consumed bool

	err := p.WithTx(ctx, func(tx *sqlx.Tx) error {
		var codesJoined sql.NullString

		selectQuery := tx.Rebind(`SELECT recovery_codes FROM users WHERE id = ? FOR UPDATE`)
		if p.driver == "sqlite3" {
			// sqlite has no row-level locking; the surrounding transaction serializes
			// writers against the same database file, which is an equivalent
			// guarantee for the single-process deployments sqlite targets.
			selectQuery = tx.Rebind(`SELECT recovery_codes FROM users WHERE id = ?`)
		}

		if err := tx.GetContext(ctx, &codesJoined, selectQuery, userID); err != nil {
			return err
		}

		codes := splitCodes(codesJoined.String)

		idx := -1

		for i, c := range codes {
			if c == code {
				idx = i

				break
			}
		}

		if idx == -1 {
			return nil
		}

		remaining := append(codes[:idx], codes[idx+1:]...)

		updateQuery := tx.Rebind(`UPDATE users SET recovery_codes = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, updateQuery, joinCodes(remaining), userID); err != nil {
			return err
		}

		consumed = true

		return nil
	})

	return consumed, err
}

type userRow struct {
	ID                 int64          `db:"id"`
	Username           string         `db:"username"`
	Email              string         `db:"email"`
	PasswordHash       sql.NullString `db:"password_hash"`
	FirstName          string         `db:"first_name"`
	LastName           string         `db:"last_name"`
	Phone              string         `db:"phone"`
	IsActive           bool           `db:"is_active"`
	MFAEnabled         bool           `db:"mfa_enabled"`
	MFAMethod          string         `db:"mfa_method"`
	TOTPEnabled        bool           `db:"totp_enabled"`
	TOTPSecret         []byte         `db:"totp_secret"`
	EmailMFAEnabled    bool           `db:"email_mfa_enabled"`
	EmailMFASecret     []byte         `db:"email_mfa_secret"`
	FromLDAP           bool           `db:"from_ldap"`
	LDAPPassRandomized bool           `db:"ldap_pass_randomized"`
	OpenIDSubject      sql.NullString `db:"openid_sub"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *userRow) toUser() *model.User {
	method, deprecated := model.NormalizeMFAMethodRead(r.MFAMethod)
	if deprecated {
		logging.Logger().WithField("user_hash", logging.HashUsername(r.Username)).
			Warn("user has deprecated mfa_method value, normalized to none")
	}

	u := &model.User{
		ID:                 r.ID,
		Username:           r.Username,
		Email:              r.Email,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Phone:              r.Phone,
		IsActive:           r.IsActive,
		MFAEnabled:         r.MFAEnabled,
		MFAMethod:          method,
		TOTPEnabled:        r.TOTPEnabled,
		TOTPSecret:         r.TOTPSecret,
		EmailMFAEnabled:    r.EmailMFAEnabled,
		EmailMFASecret:     r.EmailMFASecret,
		FromLDAP:           r.FromLDAP,
		LDAPPassRandomized: r.LDAPPassRandomized,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}

	if r.PasswordHash.Valid {
		u.PasswordHash = &r.PasswordHash.String
	}

	if r.OpenIDSubject.Valid {
		u.OpenIDSubject = r.OpenIDSubject.String
	}

	return u
}

func splitCodes(joined string) []string {
	if joined == "" {
		return nil
	}

	var out []string

	start := 0

	for i := 0; i < len(joined); i++ {
		if joined[i] == ',' {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}

	out = append(out, joined[start:])

	return out
}

func joinCodes(codes []string) string {
	out := ""

	for i, c := range codes {
		if i > 0 {
			out += ","
		}

		out += c
	}

	return out
}
