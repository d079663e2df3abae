package ldapsource

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"

	"github.com/defguard/defguard-core/internal/configuration/schema"
)

func testConfig() *schema.LDAPAuthenticationBackendConfiguration {
	return &schema.LDAPAuthenticationBackendConfiguration{
		BaseDN:               "dc=example,dc=com",
		AdditionalUsersDN:    "ou=users",
		UsernameAttribute:    "uid",
		MailAttribute:        "mail",
		DisplayNameAttribute: "displayName",
	}
}

func TestBaseDNWithAdditionalUsersDN(t *testing.T) {
	s := New(testConfig())
	assert.Equal(t, "ou=users,dc=example,dc=com", s.baseDN())
}

func TestBaseDNWithoutAdditionalUsersDN(t *testing.T) {
	cfg := testConfig()
	cfg.AdditionalUsersDN = ""

	s := New(cfg)
	assert.Equal(t, "dc=example,dc=com", s.baseDN())
}

func TestEntryToUser(t *testing.T) {
	entry := ldap.NewEntry("uid=jdoe,ou=users,dc=example,dc=com", map[string][]string{
		"uid":         {"jdoe"},
		"mail":        {"jdoe@example.com"},
		"displayName": {"Jane Doe"},
	})

	u := entryToUser(entry, testConfig(), []string{"admins"})

	assert.Equal(t, "jdoe", u.Username)
	assert.Equal(t, "jdoe@example.com", u.Email)
	assert.Equal(t, "Jane Doe", u.FirstName)
	assert.True(t, u.FromLDAP)
	assert.True(t, u.IsActive)
	assert.Equal(t, []string{"admins"}, u.Groups)
}
