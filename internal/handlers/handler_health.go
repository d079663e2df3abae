package handlers

import (
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/middlewares"
)

// HealthGet implements GET /api/health: a dependency-free liveness probe.
func HealthGet(ctx *middlewares.DefguardCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
}
