package handlers

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/middlewares"
)

func sameSiteMode(value string) fasthttp.CookieSameSite {
	switch value {
	case "strict":
		return fasthttp.CookieSameSiteStrictMode
	case "none":
		return fasthttp.CookieSameSiteNoneMode
	default:
		return fasthttp.CookieSameSiteLaxMode
	}
}

// setSessionCookie writes the signed session cookie returned by session.Manager.Create
// or ElevateAdmin onto the response.
func setSessionCookie(ctx *middlewares.DefguardCtx, value string) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	c.SetKey(ctx.Providers.Sessions.CookieName())
	c.SetValue(value)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSecure(!ctx.Providers.Sessions.CookieInsecure())
	c.SetSameSite(sameSiteMode(ctx.Configuration.Session.SameSite))
	c.SetExpire(time.Now().Add(ctx.Configuration.Session.Lifetime))

	if domain := ctx.Providers.Sessions.CookieDomain(); domain != "" {
		c.SetDomain(domain)
	}

	ctx.Response.Header.SetCookie(c)
}

// clearSessionCookie expires the session cookie immediately, used on logout.
func clearSessionCookie(ctx *middlewares.DefguardCtx) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	c.SetKey(ctx.Providers.Sessions.CookieName())
	c.SetValue("")
	c.SetPath("/")
	c.SetExpire(fasthttp.CookieExpireDelete)

	if domain := ctx.Providers.Sessions.CookieDomain(); domain != "" {
		c.SetDomain(domain)
	}

	ctx.Response.Header.SetCookie(c)
}
