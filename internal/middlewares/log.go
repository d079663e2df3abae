package middlewares

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/logging"
)

// LogRequestMiddleware logs method, path, status and latency for every request,
// matching the teacher's access-log wrapper around the router's Handler.
func LogRequestMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	logger := logging.Logger()

	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		next(ctx)

		logger.WithFields(map[string]interface{}{
			"method":   string(ctx.Method()),
			"path":     string(ctx.Path()),
			"status":   ctx.Response.StatusCode(),
			"duration": time.Since(start).String(),
		}).Debug("handled request")
	}
}

// StripPathMiddleware removes a configured base path prefix before delegating to
// next, letting the server be mounted under a sub-path (spec §6 DEFGUARD_URL can
// carry a path component).
func StripPathMiddleware(base string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		if trimmed := stripPrefix(path, base); trimmed != path {
			ctx.URI().SetPath(trimmed)
		}

		next(ctx)
	}
}

func stripPrefix(path, prefix string) string {
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		rest := path[len(prefix):]
		if rest == "" {
			return "/"
		}

		return rest
	}

	return path
}
