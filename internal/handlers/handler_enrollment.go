package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/middlewares"
)

type enrollmentStartRequest struct {
	UserID int64 `json:"user_id"`
}

type enrollmentStartResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EnrollmentStartPost implements POST /enrollment/start (admin-only, spec §4.6).
func EnrollmentStartPost(ctx *middlewares.DefguardCtx) {
	var body enrollmentStartRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	token, err := ctx.Providers.Enrollment.StartEnrollment(ctx, body.UserID, ctx.Session.UserID)
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := ctx.SetJSONBody(enrollmentStartResponse{Token: token.Token, ExpiresAt: token.ExpiresAt}); err != nil {
		ctx.Error(err, "failed to start enrollment")
	}
}

// EnrollmentValidateGet implements GET /enrollment/{token} (public, spec §6): it
// confirms the token is still redeemable without consuming it.
func EnrollmentValidateGet(ctx *middlewares.DefguardCtx) {
	token, _ := ctx.UserValue("token").(string)

	_, user, err := ctx.Providers.Enrollment.ValidateToken(ctx, token)
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := ctx.SetJSONBody(toUserInfo(user)); err != nil {
		ctx.Error(err, "failed to validate enrollment token")
	}
}

type enrollmentRedeemRequest struct {
	Password     string `json:"password"`
	DeviceName   string `json:"device_name"`
	DevicePubkey string `json:"device_pubkey"`
}

// EnrollmentRedeemPost implements POST /enrollment/{token} (public, spec §6, §4.6,
// §8 scenario 3): activates the user, sets their password, creates their first
// device and binds it into every network they're eligible for, all atomically.
func EnrollmentRedeemPost(ctx *middlewares.DefguardCtx) {
	token, _ := ctx.UserValue("token").(string)

	var body enrollmentRedeemRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.SetJSONError("invalid request body")

		return
	}

	_, user, err := ctx.Providers.Enrollment.ValidateToken(ctx, token)
	if err != nil {
		ctx.ReplyError(err)

		return
	}

	if err := ctx.Providers.Enrollment.RedeemToken(ctx, token, body.Password, body.DeviceName, body.DevicePubkey, user.Groups); err != nil {
		ctx.ReplyError(err)

		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
