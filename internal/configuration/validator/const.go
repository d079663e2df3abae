package validator

import "github.com/go-webauthn/webauthn/protocol"

// Secrets error constants.
const (
	errFmtSecretRequired = "secrets: option '%s' is required"
	errFmtSecretTooShort = "secrets: option '%s' must be %d characters or longer but is %d"
)

// Session error constants.
const (
	errFmtSessionDomainMustBeRoot = "session: option 'domain' must be the domain you wish to protect not a wildcard domain but it is configured as '%s'"
	errFmtSessionSameSite         = "session: option 'same_site' must be one of '%s' but is configured as '%s'"
	errFmtSessionLifetimeTooShort = "session: option 'lifetime' must be 1 minute or greater but is configured as '%s'"
)

// TOTP error constants.
const (
	errFmtTOTPInvalidDigits = "totp: option 'digits' must be 6 or 8 but it is configured as '%d'"
	errFmtTOTPInvalidPeriod = "totp: option 'period' must be 15 or more but it is configured as '%d'"
)

// Webauthn error constants.
const (
	errFmtWebauthnConveyancePreference = "webauthn: option 'attestation_conveyance_preference' must be one of '%s' but it is configured as '%s'"
	errFmtWebauthnUserVerification     = "webauthn: option 'user_verification' must be one of '%s' but it is configured as '%s'"
)

// Storage error constants.
const (
	errStrStorageDriverRequired  = "storage: exactly one of 'postgres', 'mysql' or 'sqlite' must be configured"
	errStrStorageDriverAmbiguous = "storage: more than one storage driver is configured; exactly one is required"
	errFmtStorageOptionRequired  = "storage: %s: option '%s' is required"
)

// Regulation error constants.
const (
	errFmtRegulationFindTimeGreaterThanBanTime = "regulation: option 'find_time' must be less than or equal to option 'ban_time'"
)

// Network error constants.
const (
	errFmtNetworkKeepaliveInvalid           = "network %s: option 'keepalive_interval' must be greater than 0"
	errFmtNetworkDisconnectThresholdInvalid = "network %s: option 'peer_disconnect_threshold' must be 120 seconds or greater but is configured as %d"
)

// Log error constants.
const (
	errFmtLoggingLevelInvalid = "log: option 'level' must be one of '%s' but it is configured as '%s'"
)

// Server error constants.
const (
	errFmtServerExternalURLInvalid = "server: option 'external_url' must be a valid absolute URL but it is configured as '%s'"
)

var validSessionSameSiteValues = []string{"none", "lax", "strict"}

var validWebauthnConveyancePreferences = []string{
	string(protocol.PreferNoAttestation),
	string(protocol.PreferIndirectAttestation),
	string(protocol.PreferDirectAttestation),
}

var validWebauthnUserVerificationRequirement = []string{
	string(protocol.VerificationDiscouraged),
	string(protocol.VerificationPreferred),
	string(protocol.VerificationRequired),
}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

const minSecretLength = 20

const minPeerDisconnectThresholdSeconds = 120
