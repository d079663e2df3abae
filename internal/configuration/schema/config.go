// Package schema defines the typed configuration tree decoded from environment
// variables (and an optional YAML file) by internal/configuration.
package schema

import "time"

// Configuration is the root configuration object, decoded via koanf+mapstructure the
// way the teacher's internal/configuration package does it.
type Configuration struct {
	Server   ServerConfiguration
	Secrets  SecretsConfiguration
	Session  SessionConfiguration
	TOTP     TOTPConfiguration
	Webauthn WebauthnConfiguration

	AuthenticationBackend AuthenticationBackendConfiguration
	Storage               StorageConfiguration
	Regulation            RegulationConfiguration
	Admin                 AdminConfiguration
	Proxy                 ProxyConfiguration

	Log LogConfiguration
}

type ServerConfiguration struct {
	Host string
	Port int
	Path string

	ReadBufferSize  int
	WriteBufferSize int

	EnablePprof        bool
	EnableExpvars      bool
	DisableHealthcheck bool

	TLS ServerTLSConfiguration

	// ExternalURL backs DEFGUARD_URL: derives the WebAuthn RP id and cookie domain
	// (spec §4.4, §6).
	ExternalURL string
}

// ServerTLSConfiguration holds the optional TLS certificate/key pair the server
// serves with when both are set; plain HTTP otherwise.
type ServerTLSConfiguration struct {
	Certificate string
	Key         string
}

type SecretsConfiguration struct {
	// AuthSecret backs DEFGUARD_AUTH_SECRET: signs/encrypts session cookies.
	AuthSecret string
	// GatewaySecret backs DEFGUARD_GATEWAY_SECRET: authenticates gateway connections
	// that don't carry a per-network GatewayToken override.
	GatewaySecret string
	// SecretKey backs DEFGUARD_SECRET_KEY: derives the envelope encryption key for
	// TOTP/email MFA seeds (spec §1, §6).
	SecretKey string
}

type SessionConfiguration struct {
	Name   string
	Domain string

	// Lifetime backs DEFGUARD_AUTH_SESSION_LIFETIME (seconds).
	Lifetime time.Duration

	SameSite string

	// CookieInsecure backs DEFGUARD_COOKIE_INSECURE (dev override of Secure).
	CookieInsecure bool

	// AdminElevationDuration is how long an admin elevation lasts once granted
	// (spec §4.5, SPEC_FULL.md §4 "Admin elevation TTL").
	AdminElevationDuration time.Duration

	// PreAuthLifetime is the 5-minute default pre-auth token TTL (spec §4.3).
	PreAuthLifetime time.Duration
}

type TOTPConfiguration struct {
	Disable   bool
	Issuer    string
	Algorithm string
	Digits    int
	Period    int
	Skew      int
}

type WebauthnConfiguration struct {
	Disable                     bool
	DisplayName                 string
	AttestationConveyancePreference string
	UserVerification            string
	Timeout                     time.Duration
}

type AuthenticationBackendConfiguration struct {
	LDAP *LDAPAuthenticationBackendConfiguration
}

type LDAPAuthenticationBackendConfiguration struct {
	URL                  string
	Timeout              time.Duration
	BaseDN               string
	UsernameAttribute    string
	AdditionalUsersDN    string
	UsersFilter          string
	GroupNameAttribute   string
	GroupsFilter         string
	MailAttribute        string
	DisplayNameAttribute string
	User                 string
	Password             string
	StartTLS             bool
	TLSSkipVerify        bool
}

type StorageConfiguration struct {
	// EncryptionKey is decoded but not read by any code; the envelope encryption of
	// MFA seeds is keyed from Secrets.SecretKey only.
	EncryptionKey string

	Driver string // "postgres" | "mysql" | "sqlite"

	Postgres *SQLStorageConfiguration
	MySQL    *SQLStorageConfiguration
	SQLite   *SQLiteStorageConfiguration
}

type SQLStorageConfiguration struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Timeout  time.Duration
	SSLMode  string
}

type SQLiteStorageConfiguration struct {
	Path string
}

type RegulationConfiguration struct {
	MaxRetries int
	FindTime   time.Duration
	BanTime    time.Duration
}

type AdminConfiguration struct {
	// GroupName backs DEFGUARD_ADMIN_GROUPNAME.
	GroupName string
	// DefaultPassword backs DEFGUARD_DEFAULT_ADMIN_PASSWORD. It is decoded but not
	// read by any code; no admin account is seeded from it.
	DefaultPassword string
}

type ProxyConfiguration struct {
	// URL backs DEFGUARD_PROXY_URL.
	URL string
}

type LogConfiguration struct {
	Level  string
	Format string
}
