package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// GroupsForUser returns the group names assigned to userID, the data User.Groups is
// populated from for every lookup path (FindUserByLogin, FindUserByID), backing the
// admin elevation check (spec §4.5) and the network allowed_groups policy (§4.7).
func (p *Provider) GroupsForUser(ctx context.Context, userID int64) ([]string, error) {
	const query = `SELECT group_name FROM user_groups WHERE user_id = ? ORDER BY group_name`

	var groups []string

	if err := p.db.SelectContext(ctx, &groups, p.db.Rebind(query), userID); err != nil {
		return nil, err
	}

	return groups, nil
}

// SetUserGroups replaces userID's group assignments with groups in one transaction,
// so an admin's edit is never observed half-applied (spec §4.1 "no partial commits").
// This is the write side the admin group-management endpoint uses; LDAP-sourced
// users get their groups resolved live from the directory instead (internal/ldapsource).
func (p *Provider) SetUserGroups(ctx context.Context, userID int64, groups []string) error {
	return p.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM user_groups WHERE user_id = ?`), userID); err != nil {
			return err
		}

		for _, g := range groups {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO user_groups (user_id, group_name) VALUES (?, ?)`), userID, g); err != nil {
				return err
			}
		}

		return nil
	})
}
