// Package ldapsource is a read-only user-lookup source for accounts with
// from_ldap = true: directory search backs find_user_by_login, and directory
// bind backs password verification, since an LDAP-sourced account's local
// password_hash is randomized and unusable (spec §3 ldap_pass_randomized).
// Directory client internals beyond this lookup/bind contract are a non-goal
// (spec §10).
package ldapsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/model"
)

// Source implements find_user_by_login against an LDAP directory.
type Source struct {
	cfg *schema.LDAPAuthenticationBackendConfiguration
}

func New(cfg *schema.LDAPAuthenticationBackendConfiguration) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) dial() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(s.cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: s.cfg.Timeout}))
	if err != nil {
		return nil, err
	}

	if s.cfg.StartTLS {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: s.cfg.TLSSkipVerify}); err != nil {
			conn.Close()

			return nil, err
		}
	}

	return conn, nil
}

// FindByLogin searches the directory for a user whose username or mail
// attribute matches login, binding first as the configured service account.
// Returns (nil, nil) when no entry matches.
func (s *Source) FindByLogin(ctx context.Context, login string) (*model.User, error) {
	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Bind(s.cfg.User, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("ldapsource: service bind failed: %w", err)
	}

	filter := strings.ReplaceAll(s.cfg.UsersFilter, "{input}", ldap.EscapeFilter(login))

	req := ldap.NewSearchRequest(
		s.baseDN(),
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(s.cfg.Timeout/time.Second), false,
		filter,
		[]string{"dn", s.cfg.UsernameAttribute, s.cfg.MailAttribute, s.cfg.DisplayNameAttribute},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, err
	}

	if len(result.Entries) == 0 {
		return nil, nil
	}

	entry := result.Entries[0]

	groups, err := s.groupsForEntry(conn, entry.DN)
	if err != nil {
		return nil, err
	}

	return entryToUser(entry, s.cfg, groups), nil
}

// groupsForEntry resolves the directory groups dn belongs to, the source User.Groups
// is populated from for LDAP accounts (mirrors the local credential store's
// user_groups join, since a directory account never has a row there). Returns nil,
// nil when groups_filter isn't configured, since group membership is then simply not
// modeled by this directory.
func (s *Source) groupsForEntry(conn *ldap.Conn, dn string) ([]string, error) {
	if s.cfg.GroupsFilter == "" {
		return nil, nil
	}

	filter := strings.ReplaceAll(s.cfg.GroupsFilter, "{input}", ldap.EscapeFilter(dn))

	req := ldap.NewSearchRequest(
		s.baseDN(),
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(s.cfg.Timeout/time.Second), false,
		filter,
		[]string{s.cfg.GroupNameAttribute},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, err
	}

	groups := make([]string, 0, len(result.Entries))

	for _, e := range result.Entries {
		if name := e.GetAttributeValue(s.cfg.GroupNameAttribute); name != "" {
			groups = append(groups, name)
		}
	}

	return groups, nil
}

// VerifyPassword performs a bind-as-user against dn to check plainPassword,
// returning apperrors.ErrCredentialInvalid on any bind failure. The bind is the
// verification; nothing is cached or compared locally.
func (s *Source) VerifyPassword(ctx context.Context, dn, plainPassword string) error {
	conn, err := s.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Bind(dn, plainPassword); err != nil {
		return apperrors.ErrCredentialInvalid
	}

	return nil
}

// VerifyPasswordByLogin re-resolves login to its directory entry and verifies
// plainPassword via bind-as-user, for callers that only have the login string (model.User
// deliberately carries no DN, since it's an LDAP-internal addressing detail).
func (s *Source) VerifyPasswordByLogin(ctx context.Context, login, plainPassword string) error {
	conn, err := s.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Bind(s.cfg.User, s.cfg.Password); err != nil {
		return fmt.Errorf("ldapsource: service bind failed: %w", err)
	}

	filter := strings.ReplaceAll(s.cfg.UsersFilter, "{input}", ldap.EscapeFilter(login))

	req := ldap.NewSearchRequest(
		s.baseDN(),
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(s.cfg.Timeout/time.Second), false,
		filter,
		[]string{"dn"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return err
	}

	if len(result.Entries) == 0 {
		return apperrors.ErrCredentialInvalid
	}

	return s.VerifyPassword(ctx, result.Entries[0].DN, plainPassword)
}

func (s *Source) baseDN() string {
	if s.cfg.AdditionalUsersDN != "" {
		return s.cfg.AdditionalUsersDN + "," + s.cfg.BaseDN
	}

	return s.cfg.BaseDN
}

func entryToUser(entry *ldap.Entry, cfg *schema.LDAPAuthenticationBackendConfiguration, groups []string) *model.User {
	return &model.User{
		Username:  entry.GetAttributeValue(cfg.UsernameAttribute),
		Email:     entry.GetAttributeValue(cfg.MailAttribute),
		FirstName: entry.GetAttributeValue(cfg.DisplayNameAttribute),
		FromLDAP:  true,
		IsActive:  true,
		Groups:    groups,
	}
}
