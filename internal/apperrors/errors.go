// Package apperrors defines the error taxonomy surfaced by the authentication and
// enrollment core. Every fallible core operation returns one of these kinds (wrapped
// with context) rather than a bare error, so the HTTP boundary can map it to a status
// code without inspecting error strings.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the core's error handling design.
type Kind string

const (
	KindCredentialInvalid   Kind = "credential_invalid"
	KindMfaRequired         Kind = "mfa_required"
	KindMfaMethodBusy       Kind = "mfa_method_busy"
	KindChallengeExpired    Kind = "challenge_expired"
	KindChallengeUnknown    Kind = "challenge_unknown"
	KindCounterRegression   Kind = "counter_regression"
	KindTokenExpired        Kind = "token_expired"
	KindTokenUsed           Kind = "token_used"
	KindNoAddressAvailable  Kind = "no_address_available"
	KindPolicyDenied        Kind = "policy_denied"
	KindGatewayBackpressure Kind = "gateway_backpressure"
	KindIntegrityViolation  Kind = "integrity_violation"
)

// Error wraps an underlying cause with a taxonomy Kind. Callers should use errors.As
// to extract it and a type switch (or Kind()) to decide on a response; they must never
// parse the Error() string to make decisions.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New creates an Error of the given kind with a static message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates an Error of the given kind, wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}

	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the taxonomy kind of this error.
func (e *Error) Kind() Kind {
	return e.kind
}

// Is allows errors.Is(err, apperrors.New(KindX, "")) to match by kind only, which is
// convenient in tests.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.kind == e.kind
	}

	return false
}

// Of extracts the Kind of err if it is (or wraps) an *Error, and ok=false otherwise.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}

	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)

	return ok && k == kind
}

var (
	ErrCredentialInvalid   = New(KindCredentialInvalid, "invalid credentials")
	ErrMfaRequired         = New(KindMfaRequired, "password verified, mfa verification still required")
	ErrMfaMethodBusy       = New(KindMfaMethodBusy, "another mfa method is already in flight")
	ErrChallengeExpired    = New(KindChallengeExpired, "challenge has expired")
	ErrChallengeUnknown    = New(KindChallengeUnknown, "challenge is unknown")
	ErrCounterRegression   = New(KindCounterRegression, "authenticator counter regression detected")
	ErrTokenExpired        = New(KindTokenExpired, "token has expired")
	ErrTokenUsed           = New(KindTokenUsed, "token has already been used")
	ErrNoAddressAvailable  = New(KindNoAddressAvailable, "no address available in network pool")
	ErrPolicyDenied        = New(KindPolicyDenied, "user is not permitted on this network")
	ErrGatewayBackpressure = New(KindGatewayBackpressure, "gateway acknowledgement lag exceeded queue capacity")
	ErrIntegrityViolation  = New(KindIntegrityViolation, "storage integrity constraint violated")

	// ErrMfaMethodDisabled is returned when a user's stored mfa_method names a method
	// the user no longer has enabled. See SPEC_FULL.md §5 for the policy decision.
	ErrMfaMethodDisabled = New(KindCredentialInvalid, "configured mfa method is no longer enabled")

	// ErrDeprecatedMFAMethod is returned when a write attempts to persist the
	// deprecated "web3" mfa_method value.
	ErrDeprecatedMFAMethod = errors.New("mfa method 'web3' is deprecated and may not be written")
)
