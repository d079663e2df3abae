package middlewares

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

// CORSMiddleware adds the Access-Control-* headers the browser-facing /api/auth
// route needs. The teacher's CORS policy exposed separately-configurable origins,
// header lists, vary behaviour and max-age; this core only ever builds one policy
// (allowed methods plus credentials), always reflecting the request's https Origin
// and the preflight-requested headers/methods, so that is the only shape kept (see
// DESIGN.md for the trim rationale).
type CORSMiddleware struct {
	methods     []byte
	credentials []byte
}

// NewCORSMiddleware builds a policy that adds Vary: Origin to every response, and
// for requests carrying an https Origin, reflects it back with
// Access-Control-Allow-Credentials and a fixed max-age.
func NewCORSMiddleware() *CORSMiddleware {
	return &CORSMiddleware{credentials: headerValueFalse}
}

// WithAllowedMethods sets the Access-Control-Allow-Methods header value.
func (p *CORSMiddleware) WithAllowedMethods(methods ...string) *CORSMiddleware {
	p.methods = []byte(strings.Join(methods, ", "))

	return p
}

// WithAllowCredentials sets the Access-Control-Allow-Credentials header value.
func (p *CORSMiddleware) WithAllowCredentials(allow bool) *CORSMiddleware {
	p.credentials = []byte(strconv.FormatBool(allow))

	return p
}

// HandleOPTIONS answers a CORS preflight request with the Allow header and a 204,
// no body.
func (p *CORSMiddleware) HandleOPTIONS(ctx *fasthttp.RequestCtx) {
	ctx.Response.ResetBody()
	ctx.SetStatusCode(fasthttp.StatusNoContent)

	if len(p.methods) != 0 {
		ctx.Response.Header.SetBytesKV(headerAllow, p.methods)
	}

	p.handle(ctx)
}

// Middleware adds the CORS headers ahead of next.
func (p *CORSMiddleware) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p.handle(ctx)

		next(ctx)
	}
}

func (p *CORSMiddleware) handle(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.SetBytesKV(headerVary, headerValueVary)

	origin := ctx.Request.Header.PeekBytes(headerOrigin)

	originURL, err := url.Parse(string(origin))
	if err != nil || originURL.Scheme != "https" {
		return
	}

	ctx.Response.Header.SetBytesKV(headerAccessControlAllowOrigin, origin)
	ctx.Response.Header.SetBytesKV(headerAccessControlAllowCredentials, p.credentials)
	ctx.Response.Header.SetBytesKV(headerAccessControlMaxAge, headerValueMaxAge)

	p.handleAllowedHeaders(ctx)
	p.handleAllowedMethods(ctx)
}

func (p *CORSMiddleware) handleAllowedMethods(ctx *fasthttp.RequestCtx) {
	if len(p.methods) != 0 {
		ctx.Response.Header.SetBytesKV(headerAccessControlAllowMethods, p.methods)

		return
	}

	if requestMethods := ctx.Request.Header.PeekBytes(headerAccessControlRequestMethod); requestMethods != nil {
		ctx.Response.Header.SetBytesKV(headerAccessControlAllowMethods, requestMethods)
	}
}

// handleAllowedHeaders reflects the Access-Control-Request-Headers of a preflight
// request back, dropping Cookie/Authorization/Proxy-Authorization unless the
// policy allows credentials, and the catch-all "*" value (meaningless alongside a
// credentialed response).
func (p *CORSMiddleware) handleAllowedHeaders(ctx *fasthttp.RequestCtx) {
	headers := ctx.Request.Header.PeekBytes(headerAccessControlRequestHeaders)
	if headers == nil {
		return
	}

	requested := strings.Split(string(headers), ",")
	allowed := make([]string, 0, len(requested))

	for _, h := range requested {
		h = strings.Trim(h, " ")

		if h == "*" {
			continue
		}

		if bytes.Equal(p.credentials, headerValueTrue) ||
			(!strings.EqualFold(fasthttp.HeaderCookie, h) &&
				!strings.EqualFold(fasthttp.HeaderAuthorization, h) &&
				!strings.EqualFold(fasthttp.HeaderProxyAuthorization, h)) {
			allowed = append(allowed, h)
		}
	}

	if len(allowed) != 0 {
		ctx.Response.Header.SetBytesKV(headerAccessControlAllowHeaders, []byte(strings.Join(allowed, ", ")))
	}
}
