// Package validator validates a decoded schema.Configuration, following the
// teacher's pattern of a StructValidator that accumulates errors rather than
// failing fast on the first problem.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/defguard/defguard-core/internal/configuration/schema"
)

// StructValidator accumulates validation errors and warnings across every section,
// mirroring the teacher's validator.StructValidator.
type StructValidator struct {
	errors   []error
	warnings []error
}

func (v *StructValidator) Push(err error) { v.errors = append(v.errors, err) }
func (v *StructValidator) PushWarning(err error) { v.warnings = append(v.warnings, err) }

func (v *StructValidator) HasErrors() bool   { return len(v.errors) != 0 }
func (v *StructValidator) HasWarnings() bool { return len(v.warnings) != 0 }
func (v *StructValidator) Errors() []error   { return v.errors }
func (v *StructValidator) Warnings() []error { return v.warnings }

// ValidateConfiguration validates every section of the configuration and returns the
// accumulated validator. Callers should check v.HasErrors() and fail startup if true.
func ValidateConfiguration(config *schema.Configuration) *StructValidator {
	v := &StructValidator{}

	validateServer(config, v)
	validateSecrets(config, v)
	validateSession(config, v)
	validateTOTP(config, v)
	validateWebauthn(config, v)
	validateStorage(config, v)
	validateRegulation(config, v)
	validateLog(config, v)

	return v
}

// validateServer checks option 'external_url', which the WebAuthn RP id and
// session cookie domain are both derived from (spec §4.4, §6).
func validateServer(config *schema.Configuration, v *StructValidator) {
	if config.Server.ExternalURL == "" {
		return
	}

	if !govalidator.IsURL(config.Server.ExternalURL) {
		v.Push(fmt.Errorf(errFmtServerExternalURLInvalid, config.Server.ExternalURL))
	}
}

func validateSecrets(config *schema.Configuration, v *StructValidator) {
	requireSecret(config.Secrets.AuthSecret, "auth_secret", v)
	requireSecret(config.Secrets.SecretKey, "secret_key", v)

	if config.Secrets.GatewaySecret == "" {
		v.PushWarning(fmt.Errorf(errFmtSecretRequired, "gateway_secret"))
	}
}

func requireSecret(value, name string, v *StructValidator) {
	if value == "" {
		v.Push(fmt.Errorf(errFmtSecretRequired, name))

		return
	}

	if len(value) < minSecretLength {
		v.Push(fmt.Errorf(errFmtSecretTooShort, name, minSecretLength, len(value)))
	}
}

func validateSession(config *schema.Configuration, v *StructValidator) {
	session := &config.Session

	if session.Domain != "" && strings.HasPrefix(session.Domain, "*") {
		v.Push(fmt.Errorf(errFmtSessionDomainMustBeRoot, session.Domain))
	}

	if !isStringInSlice(strings.ToLower(session.SameSite), validSessionSameSiteValues) {
		v.Push(fmt.Errorf(errFmtSessionSameSite, strings.Join(validSessionSameSiteValues, "', '"), session.SameSite))
	}

	if session.Lifetime < time.Minute {
		v.Push(fmt.Errorf(errFmtSessionLifetimeTooShort, session.Lifetime))
	}
}

func validateTOTP(config *schema.Configuration, v *StructValidator) {
	if config.TOTP.Disable {
		return
	}

	if config.TOTP.Digits != 6 && config.TOTP.Digits != 8 {
		v.Push(fmt.Errorf(errFmtTOTPInvalidDigits, config.TOTP.Digits))
	}

	if config.TOTP.Period < 15 {
		v.Push(fmt.Errorf(errFmtTOTPInvalidPeriod, config.TOTP.Period))
	}
}

func validateWebauthn(config *schema.Configuration, v *StructValidator) {
	if config.Webauthn.Disable {
		return
	}

	if !isStringInSlice(config.Webauthn.AttestationConveyancePreference, validWebauthnConveyancePreferences) {
		v.Push(fmt.Errorf(errFmtWebauthnConveyancePreference, strings.Join(validWebauthnConveyancePreferences, "', '"), config.Webauthn.AttestationConveyancePreference))
	}

	if !isStringInSlice(config.Webauthn.UserVerification, validWebauthnUserVerificationRequirement) {
		v.Push(fmt.Errorf(errFmtWebauthnUserVerification, strings.Join(validWebauthnUserVerificationRequirement, "', '"), config.Webauthn.UserVerification))
	}
}

func validateStorage(config *schema.Configuration, v *StructValidator) {
	count := 0

	if config.Storage.Postgres != nil {
		count++

		requireSQLOptions("postgres", config.Storage.Postgres, v)
	}

	if config.Storage.MySQL != nil {
		count++

		requireSQLOptions("mysql", config.Storage.MySQL, v)
	}

	if config.Storage.SQLite != nil {
		count++

		if config.Storage.SQLite.Path == "" {
			v.Push(fmt.Errorf(errFmtStorageOptionRequired, "sqlite", "path"))
		}
	}

	switch {
	case count == 0:
		v.Push(fmt.Errorf(errStrStorageDriverRequired))
	case count > 1:
		v.Push(fmt.Errorf(errStrStorageDriverAmbiguous))
	}
}

func requireSQLOptions(driver string, opts *schema.SQLStorageConfiguration, v *StructValidator) {
	if opts.Host == "" {
		v.Push(fmt.Errorf(errFmtStorageOptionRequired, driver, "host"))
	}

	if opts.Database == "" {
		v.Push(fmt.Errorf(errFmtStorageOptionRequired, driver, "database"))
	}
}

func validateRegulation(config *schema.Configuration, v *StructValidator) {
	if config.Regulation.FindTime > config.Regulation.BanTime {
		v.Push(fmt.Errorf(errFmtRegulationFindTimeGreaterThanBanTime))
	}
}

func validateLog(config *schema.Configuration, v *StructValidator) {
	if !isStringInSlice(strings.ToLower(config.Log.Level), validLogLevels) {
		v.Push(fmt.Errorf(errFmtLoggingLevelInvalid, strings.Join(validLogLevels, "', '"), config.Log.Level))
	}
}

// ValidateNetwork validates a single WireGuard network's operational constants
// (spec §3 invariant: peer_disconnect_threshold ≥ 120s).
func ValidateNetwork(name string, keepaliveInterval, peerDisconnectThreshold int) error {
	if keepaliveInterval <= 0 {
		return fmt.Errorf(errFmtNetworkKeepaliveInvalid, name)
	}

	if peerDisconnectThreshold < minPeerDisconnectThresholdSeconds {
		return fmt.Errorf(errFmtNetworkDisconnectThresholdInvalid, name, peerDisconnectThreshold)
	}

	return nil
}

func isStringInSlice(needle string, haystack []string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}
