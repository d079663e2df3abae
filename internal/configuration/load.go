// Package configuration loads and validates the process configuration, mirroring the
// teacher's internal/configuration package: koanf layers an optional YAML file under
// environment variables, then mapstructure decodes into schema.Configuration.
package configuration

import (
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/mitchellh/mapstructure"

	"github.com/defguard/defguard-core/internal/configuration/schema"
)

const envPrefix = "DEFGUARD_"

// Load builds a schema.Configuration from an optional YAML file at path (ignored if
// empty or missing) overlaid by DEFGUARD_* environment variables, which always win.
func Load(path string) (*schema.Configuration, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", mapEnvKey), nil); err != nil {
		return nil, err
	}

	config := Defaults()

	decoder := mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	dec, err := mapstructure.NewDecoder(&decoder)
	if err != nil {
		return nil, err
	}

	if err := dec.Decode(k.Raw()); err != nil {
		return nil, err
	}

	return config, nil
}

// mapEnvKey translates DEFGUARD_AUTH_SESSION_LIFETIME -> session.lifetime style
// koanf paths for the handful of flat legacy-style variables named explicitly in
// spec §6; all other variables fall back to a direct dotted-path translation of
// their suffix (DEFGUARD_SERVER_HOST -> server.host). A bare integer
// DEFGUARD_AUTH_SESSION_LIFETIME is read as a number of seconds.
func mapEnvKey(key, value string) (string, interface{}) {
	trimmed := strings.TrimPrefix(key, envPrefix)

	if mapped, ok := legacyEnvKeys[trimmed]; ok {
		if trimmed == "AUTH_SESSION_LIFETIME" {
			if _, err := strconv.Atoi(value); err == nil {
				value += "s"
			}
		}

		return mapped, value
	}

	path := strings.ToLower(strings.ReplaceAll(trimmed, "_", "."))

	return path, value
}

var legacyEnvKeys = map[string]string{
	"AUTH_SECRET":               "secrets.authsecret",
	"GATEWAY_SECRET":            "secrets.gatewaysecret",
	"SECRET_KEY":                "secrets.secretkey",
	"URL":                       "server.externalurl",
	"AUTH_SESSION_LIFETIME":     "session.lifetime",
	"COOKIE_INSECURE":           "session.cookieinsecure",
	"ADMIN_GROUPNAME":           "admin.groupname",
	"DEFAULT_ADMIN_PASSWORD":    "admin.defaultpassword",
	"PROXY_URL":                 "proxy.url",
	"LDAP_URL":                  "authenticationbackend.ldap.url",
	"LDAP_BASE_DN":              "authenticationbackend.ldap.basedn",
	"LDAP_USER":                 "authenticationbackend.ldap.user",
	"LDAP_PASSWORD":             "authenticationbackend.ldap.password",
	"DB_HOST":                   "storage.postgres.host",
	"DB_PORT":                   "storage.postgres.port",
	"DB_NAME":                   "storage.postgres.database",
	"DB_USER":                   "storage.postgres.username",
	"DB_PASSWORD":               "storage.postgres.password",
}

// Defaults returns a Configuration with the spec's documented defaults applied, so
// that unset options fall back sanely rather than to Go zero values (e.g. a
// Regulation.MaxRetries of 0 would make the regulator refuse every login).
func Defaults() *schema.Configuration {
	return &schema.Configuration{
		Server: schema.ServerConfiguration{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Session: schema.SessionConfiguration{
			Name:                   "defguard_session",
			SameSite:               "lax",
			Lifetime:               time.Hour,
			AdminElevationDuration: 10 * time.Minute,
			PreAuthLifetime:        5 * time.Minute,
		},
		TOTP: schema.TOTPConfiguration{
			Issuer:    "defguard",
			Algorithm: "SHA1",
			Digits:    6,
			Period:    30,
			Skew:      1,
		},
		Webauthn: schema.WebauthnConfiguration{
			DisplayName:                      "defguard",
			AttestationConveyancePreference:  "indirect",
			UserVerification:                 "preferred",
			Timeout:                          60 * time.Second,
		},
		Regulation: schema.RegulationConfiguration{
			MaxRetries: 5,
			FindTime:   2 * time.Minute,
			BanTime:    5 * time.Minute,
		},
		Admin: schema.AdminConfiguration{
			GroupName: "admins",
		},
		Log: schema.LogConfiguration{
			Level:  "info",
			Format: "text",
		},
	}
}
