// Package server wires the HTTP/JSON surface (spec §6) and the gateway WebSocket
// endpoint onto a fasthttp.Server, following the teacher's router-then-middleware
// composition in internal/server/server.go.
package server

import (
	"net"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/handlers"
	"github.com/defguard/defguard-core/internal/logging"
	"github.com/defguard/defguard-core/internal/middlewares"
)

func registerRoutes(configuration schema.Configuration, providers middlewares.Providers) fasthttp.RequestHandler {
	defguardMiddleware := middlewares.DefguardMiddleware(configuration, providers)

	cors := middlewares.NewCORSMiddleware().
		WithAllowedMethods("GET", "POST", "DELETE", "OPTIONS").
		WithAllowCredentials(true)

	r := router.New()

	r.GET("/api/health", defguardMiddleware(handlers.HealthGet))

	r.OPTIONS("/api/auth", cors.HandleOPTIONS)
	r.POST("/api/auth", cors.Middleware(defguardMiddleware(handlers.FirstFactorPost)))
	r.POST("/api/auth/mfa/totp/verify", defguardMiddleware(handlers.SecondFactorTOTPPost))
	r.POST("/api/auth/mfa/email/start", defguardMiddleware(handlers.SecondFactorEmailStartPost))
	r.POST("/api/auth/mfa/email/verify", defguardMiddleware(handlers.SecondFactorEmailPost))
	r.POST("/api/auth/mfa/webauthn/start", defguardMiddleware(handlers.SecondFactorWebauthnStartPost))
	r.POST("/api/auth/mfa/webauthn/verify", defguardMiddleware(handlers.SecondFactorWebauthnPost))
	r.POST("/api/auth/recovery_code", defguardMiddleware(handlers.RecoveryCodePost))
	r.POST("/api/auth/logout", defguardMiddleware(handlers.LogoutPost))
	r.POST("/api/auth/elevate", defguardMiddleware(middlewares.RequireMFAVerified(handlers.AdminElevatePost)))

	r.POST("/api/enrollment/start", defguardMiddleware(middlewares.RequireAdmin(handlers.EnrollmentStartPost)))
	r.GET("/api/enrollment/{token}", defguardMiddleware(handlers.EnrollmentValidateGet))
	r.POST("/api/enrollment/{token}", defguardMiddleware(handlers.EnrollmentRedeemPost))

	r.GET("/api/user/info", defguardMiddleware(middlewares.RequireSession(handlers.UserInfoGet)))

	r.POST("/api/network/import", defguardMiddleware(middlewares.RequireAdmin(handlers.NetworkImportPost)))
	r.GET("/api/network/{id}", defguardMiddleware(middlewares.RequireSession(handlers.NetworkGet)))
	r.GET("/api/network/{id}/peers", defguardMiddleware(middlewares.RequireAdmin(handlers.NetworkPeersGet)))

	r.POST("/api/device", defguardMiddleware(middlewares.RequireSession(handlers.DevicePost)))

	r.PUT("/api/admin/users/{id}/groups", defguardMiddleware(middlewares.RequireAdmin(handlers.UserGroupsPut)))

	r.GET("/gateway/connect", providers.Gateway.Connect)

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}

	r.HandleMethodNotAllowed = true
	r.MethodNotAllowed = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}

	handler := middlewares.LogRequestMiddleware(r.Handler)
	if configuration.Server.Path != "" {
		handler = middlewares.StripPathMiddleware(configuration.Server.Path, handler)
	}

	return handler
}

// Start runs the control plane's HTTP server until it exits fatally, mirroring the
// teacher's fasthttp.Server setup (TLS when a certificate/key pair is configured,
// plain otherwise).
func Start(configuration schema.Configuration, providers middlewares.Providers) {
	logger := logging.Logger()

	handler := registerRoutes(configuration, providers)

	srv := &fasthttp.Server{
		Handler:               handler,
		NoDefaultServerHeader: true,
		ReadBufferSize:        configuration.Server.ReadBufferSize,
		WriteBufferSize:       configuration.Server.WriteBufferSize,
	}

	address := net.JoinHostPort(configuration.Server.Host, strconv.Itoa(configuration.Server.Port))

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf("error initializing listener: %s", err)
	}

	if configuration.Server.TLS.Certificate != "" && configuration.Server.TLS.Key != "" {
		logger.Infof("listening for TLS connections on '%s'", address)
		logger.Fatal(srv.ServeTLS(listener, configuration.Server.TLS.Certificate, configuration.Server.TLS.Key))
	} else {
		logger.Infof("listening for connections on '%s'", address)
		logger.Fatal(srv.Serve(listener))
	}
}
