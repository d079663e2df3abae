package handlers

import (
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/crypto/password"
	"github.com/defguard/defguard-core/internal/middlewares"
	"github.com/defguard/defguard-core/internal/model"
)

type userInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type mfaContext struct {
	MFAMethod model.MFAMethod `json:"mfa_method"`
}

// authResponse is the shared shape for every endpoint that can complete a login:
// either the user is fully authenticated (User set, cookie written) or a further MFA
// step is required (MFA set, PreAuthToken carries the token for the next call), per
// spec §6 "/auth ... 200 returns either {user} ... or {mfa: {...}}".
type authResponse struct {
	User         *userInfo   `json:"user,omitempty"`
	MFA          *mfaContext `json:"mfa,omitempty"`
	PreAuthToken string      `json:"pre_auth_token,omitempty"`
}

// resolveUser looks the login up in the Credential Store first, falling back to the
// read-only LDAP source when the local lookup misses and LDAP is configured (spec §1
// "an optional read-only LDAP source").
func resolveUser(ctx *middlewares.DefguardCtx, login string) (*model.User, error) {
	user, err := ctx.Providers.Storage.FindUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	if user != nil {
		return user, nil
	}

	if ctx.Providers.LDAP != nil {
		return ctx.Providers.LDAP.FindByLogin(ctx, login)
	}

	return nil, nil
}

// verifyUserPassword dispatches to the LDAP bind-as-user check for directory
// accounts whose local password_hash is randomized, and to the local Argon2id
// verifier otherwise (spec §3 ldap_pass_randomized).
func verifyUserPassword(ctx *middlewares.DefguardCtx, user *model.User, plain string) error {
	if user.FromLDAP && user.LDAPPassRandomized {
		if ctx.Providers.LDAP == nil {
			return apperrors.ErrCredentialInvalid
		}

		return ctx.Providers.LDAP.VerifyPasswordByLogin(ctx, user.Username, plain)
	}

	if user.PasswordHash == nil {
		return apperrors.ErrCredentialInvalid
	}

	return password.Verify(plain, *user.PasswordHash)
}

func toUserInfo(user *model.User) *userInfo {
	return &userInfo{Username: user.Username, Email: user.Email}
}

// completeLogin creates a fully-authenticated session and writes the cookie, the
// common tail of every path that ends in "user is now logged in" (password-only,
// TOTP, email code, WebAuthn, recovery code).
func completeLogin(ctx *middlewares.DefguardCtx, user *model.User) {
	cookie, _, err := ctx.Providers.Sessions.Create(ctx, user.ID, true, ctx.RemoteIP().String(), string(ctx.UserAgent()))
	if err != nil {
		ctx.Error(err, "authentication failed")

		return
	}

	setSessionCookie(ctx, cookie)

	if err := ctx.SetJSONBody(authResponse{User: toUserInfo(user)}); err != nil {
		ctx.Error(err, "authentication failed")
	}
}

// finishMFA maps a Verify* outcome from internal/mfa onto the HTTP boundary: success
// completes the login, failure maps through the spec §7 error taxonomy.
func finishMFA(ctx *middlewares.DefguardCtx, user *model.User, err error) {
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	completeLogin(ctx, user)
}

type firstFactorRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FirstFactorPost implements POST /auth (spec §6, §4.2, §4.3).
func FirstFactorPost(ctx *middlewares.DefguardCtx) {
	var body firstFactorRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := resolveUser(ctx, body.Username)
	if err != nil {
		ctx.Error(err, "authentication failed")

		return
	}

	if user == nil || !user.IsActive {
		// Run the verifier against a fixed dummy hash so lookup failures and
		// password failures take the same amount of time (spec §1 "constant-time
		// against... timing side channels").
		password.VerifyAgainstFake(body.Password)
		ctx.ReplyError(apperrors.ErrCredentialInvalid)

		return
	}

	if err := ctx.Providers.Regulator.Check(ctx, user.ID); err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := verifyUserPassword(ctx, user, body.Password); err != nil {
		_ = ctx.Providers.Regulator.RecordFailure(ctx, user.ID)
		ctx.ReplyError(apperrors.ErrCredentialInvalid)

		return
	}

	// Rehash-on-read: a legacy or outdated hash is replaced now that the plaintext
	// is known to be correct.
	if user.PasswordHash != nil && !user.LDAPPassRandomized && password.NeedsRehash(*user.PasswordHash) {
		if rehashed, err := password.Hash(body.Password); err == nil {
			_ = ctx.Providers.Storage.WithTx(ctx, func(tx *sqlx.Tx) error {
				return ctx.Providers.Storage.UpdatePasswordHash(ctx, tx, user.ID, rehashed)
			})
		}
	}

	if !user.MFAEnabled {
		completeLogin(ctx, user)

		return
	}

	preauth := ctx.Providers.MFA.Begin(user.ID, user.MFAMethod, ctx.Configuration.Session.PreAuthLifetime)

	if err := ctx.SetJSONBody(authResponse{MFA: &mfaContext{MFAMethod: user.MFAMethod}, PreAuthToken: preauth.Token}); err != nil {
		ctx.Error(err, "authentication failed")
	}
}

type mfaTokenRequest struct {
	Token string `json:"token"`
}

type mfaVerifyRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// SecondFactorTOTPPost implements POST /auth/mfa/totp/verify.
func SecondFactorTOTPPost(ctx *middlewares.DefguardCtx) {
	var body mfaVerifyRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.MFA.VerifyTOTP(ctx, body.Token, body.Code)
	finishMFA(ctx, user, err)
}

// SecondFactorEmailStartPost implements POST /auth/mfa/email/start.
func SecondFactorEmailStartPost(ctx *middlewares.DefguardCtx) {
	var body mfaTokenRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	if err := ctx.Providers.MFA.StartEmailChallenge(ctx, body.Token); err != nil {
		ctx.ReplyError(err)

		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// SecondFactorEmailPost implements POST /auth/mfa/email/verify.
func SecondFactorEmailPost(ctx *middlewares.DefguardCtx) {
	var body mfaVerifyRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.MFA.VerifyEmailCode(ctx, body.Token, body.Code)
	finishMFA(ctx, user, err)
}

// SecondFactorWebauthnStartPost implements POST /auth/mfa/webauthn/start.
func SecondFactorWebauthnStartPost(ctx *middlewares.DefguardCtx) {
	var body mfaTokenRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	assertion, err := ctx.Providers.MFA.BeginWebAuthn(ctx, body.Token, ctx.Providers.WebAuthn)
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := ctx.SetJSONBody(assertion); err != nil {
		ctx.Error(err, "failed to start webauthn challenge")
	}
}

type webauthnVerifyRequest struct {
	Token     string          `json:"token"`
	Assertion json.RawMessage `json:"assertion"`
}

// SecondFactorWebauthnPost implements POST /auth/mfa/webauthn/verify.
func SecondFactorWebauthnPost(ctx *middlewares.DefguardCtx) {
	var body webauthnVerifyRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.MFA.VerifyWebAuthn(ctx, body.Token, body.Assertion, ctx.Providers.WebAuthn)
	finishMFA(ctx, user, err)
}

// RecoveryCodePost implements POST /auth/recovery_code.
func RecoveryCodePost(ctx *middlewares.DefguardCtx) {
	var body mfaVerifyRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	user, err := ctx.Providers.MFA.VerifyRecoveryCode(ctx, body.Token, body.Code)
	finishMFA(ctx, user, err)
}

// LogoutPost implements POST /auth/logout (spec §4.5).
func LogoutPost(ctx *middlewares.DefguardCtx) {
	cookie := ctx.Request.Header.Cookie(ctx.Providers.Sessions.CookieName())

	if len(cookie) > 0 {
		if s, err := ctx.Providers.Sessions.Verify(ctx, string(cookie)); err == nil {
			_ = ctx.Providers.Sessions.Logout(ctx, s)
		}
	}

	clearSessionCookie(ctx)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// AdminElevatePost implements the admin elevation step (spec §4.5): requires an
// mfa_verified session whose user belongs to the configured admin group.
func AdminElevatePost(ctx *middlewares.DefguardCtx) {
	user, err := ctx.Providers.Storage.FindUserByID(ctx, ctx.Session.UserID)
	if err != nil {
		ctx.Error(err, "elevation failed")

		return
	}

	if user == nil || !user.IsAdmin(ctx.Configuration.Admin.GroupName) {
		ctx.ReplyForbidden()

		return
	}

	cookie, err := ctx.Providers.Sessions.ElevateAdmin(ctx, ctx.Session)
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	setSessionCookie(ctx, cookie)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// UserInfoGet implements GET /user/info.
func UserInfoGet(ctx *middlewares.DefguardCtx) {
	user, err := ctx.Providers.Storage.FindUserByID(ctx, ctx.Session.UserID)
	if err != nil {
		ctx.Error(err, "failed to load user")

		return
	}

	if user == nil {
		ctx.ReplyUnauthorized()

		return
	}

	if err := ctx.SetJSONBody(toUserInfo(user)); err != nil {
		ctx.Error(err, "failed to load user")
	}
}
