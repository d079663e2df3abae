package middlewares

var (
	headerVary   = []byte("Vary")
	headerOrigin = []byte("Origin")
	headerAllow  = []byte("Allow")

	headerAccessControlAllowOrigin      = []byte("Access-Control-Allow-Origin")
	headerAccessControlAllowCredentials = []byte("Access-Control-Allow-Credentials")
	headerAccessControlAllowHeaders     = []byte("Access-Control-Allow-Headers")
	headerAccessControlAllowMethods     = []byte("Access-Control-Allow-Methods")
	headerAccessControlMaxAge           = []byte("Access-Control-Max-Age")
	headerAccessControlRequestHeaders   = []byte("Access-Control-Request-Headers")
	headerAccessControlRequestMethod    = []byte("Access-Control-Request-Method")

	headerValueVary   = []byte("Origin")
	headerValueMaxAge = []byte("100")
	headerValueTrue   = []byte("true")
	headerValueFalse  = []byte("false")
)
