package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// Authenticator guards routes and serves the browser login flow.
type Authenticator interface {
	RequireAuth(next http.Handler) http.Handler
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
}

// Routes are the handlers mounted by Register. Nil optional handlers are
// skipped.
type Routes struct {
	Chat *ChatServer
	Runs *RunServer
	Auth Authenticator
	// Ready is pinged by /readyz.
	Ready map[string]Pinger
	// Metrics serves /metrics (optional).
	Metrics http.Handler
	// MCP serves the model-context-protocol endpoint under /mcp (optional).
	MCP             http.Handler
	Issuer          string
	SwaggerClientID string
	// SwaggerScopes are requested by the docs page login.
	SwaggerScopes []string
}

// NewEcho creates the echo instance with the error handler, validator and
// common middleware installed.
func NewEcho(log Logger, serviceName string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(otelecho.Middleware(serviceName))
	return e
}

// Register mounts every route. /chat and /api/v1 require authentication;
// health, docs and metrics do not.
func Register(e *echo.Echo, r Routes) {
	e.GET("/healthz", HandleHealth)
	e.GET("/readyz", ReadyHandler(r.Ready))
	if r.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(r.Metrics))
	}

	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(r.Issuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler(r.Issuer, r.SwaggerClientID, r.SwaggerScopes)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(OAuth2RedirectHandler()))

	requireAuth := echo.WrapMiddleware(r.Auth.RequireAuth)
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(r.Auth.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(r.Auth.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(r.Auth.LogoutHandler)))

	chat := e.Group("/chat", requireAuth)
	chat.POST("", r.Chat.PostChat)
	chat.GET("", r.Chat.GetChat)

	v1 := e.Group("/api/v1", requireAuth)
	v1.POST("/chat", r.Chat.PostChat)
	v1.GET("/chat", r.Chat.GetChat)
	v1.GET("/runs/:messageId", r.Runs.GetRun)
	v1.GET("/runs/:messageId/events", r.Runs.RunEvents)

	if r.MCP != nil {
		e.Any("/mcp", echo.WrapHandler(r.MCP), requireAuth)
		e.Any("/mcp/*", echo.WrapHandler(r.MCP), requireAuth)
	}
}
