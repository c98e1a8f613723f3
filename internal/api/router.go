package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "zyphon/internal/api/context"
	"zyphon/internal/api/handlers"
	"zyphon/internal/api/middleware"
	"zyphon/internal/engine/keys"
	"zyphon/internal/engine/ratelimit"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/platform/auth"
	"zyphon/internal/platform/models"
)

type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	APIKeyHandler  *handlers.APIKeyHandler
	AuditHandler   *handlers.AuditHandler
	GatewayHandler *handlers.GatewayHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	AuthMiddleware *middleware.AuthMiddleware
	APIKeyAuth     *middleware.APIKeyMiddleware
	RateLimiter    *middleware.RateLimiter

	TrustProxyHeaders bool
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	r := &routes{router: router, trustProxy: deps.TrustProxyHeaders}

	// Operational
	r.handle(http.MethodGet, "/health", deps.HealthHandler.Check)
	r.handle(http.MethodGet, "/metrics", deps.MetricsHandler.Export)

	// Admin session
	r.handle(http.MethodPost, "/api/v1/auth/login", deps.AuthHandler.Login)

	authMid := deps.AuthMiddleware
	admin := requireRole(models.RoleAdmin)

	// Key lifecycle
	r.handle(http.MethodGet, "/api/v1/admin/keys", deps.APIKeyHandler.List, authMid.Handle, admin)
	r.handle(http.MethodPost, "/api/v1/admin/keys", deps.APIKeyHandler.Create, authMid.Handle, admin)
	r.handle(http.MethodGet, "/api/v1/admin/keys/:key_id", deps.APIKeyHandler.Get, authMid.Handle, admin)
	r.handle(http.MethodPost, "/api/v1/admin/keys/:key_id/rotate", deps.APIKeyHandler.Rotate, authMid.Handle, admin)
	r.handle(http.MethodPost, "/api/v1/admin/keys/:key_id/revoke", deps.APIKeyHandler.Revoke, authMid.Handle, admin)

	// Audit trail
	r.handle(http.MethodGet, "/api/v1/admin/audit", deps.AuditHandler.List, authMid.Handle, admin)

	// External gateway: authenticate, authorize, then rate limit.
	keyAuth := deps.APIKeyAuth
	limit := deps.RateLimiter
	gw := deps.GatewayHandler

	r.handle(http.MethodPost, "/api/v1/zyphon/chat", gw.Chat,
		keyAuth.Handle, keyAuth.RequireScope(keys.ScopeChatWrite), limit.Limit(ratelimit.ClassChat))
	r.handle(http.MethodPost, "/api/v1/zyphon/image", gw.Image,
		keyAuth.Handle, keyAuth.RequireScope(keys.ScopeImageGenerate), limit.Limit(ratelimit.ClassImage))
	r.handle(http.MethodPost, "/api/v1/zyphon/pdf", gw.PDF,
		keyAuth.Handle, keyAuth.RequireScope(keys.ScopePDFGenerate), limit.Limit(ratelimit.ClassPDF))
	r.handle(http.MethodPost, "/api/v1/zyphon/design-spec", gw.DesignSpec,
		keyAuth.Handle, keyAuth.RequireScope(keys.ScopeImageGenerate), limit.Limit(ratelimit.ClassDesign))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

type routes struct {
	router     *httprouter.Router
	trustProxy bool
}

// handle registers path with every request instrumented and tagged with the
// client IP before the route's own middleware runs.
func (r *routes) handle(method, path string, handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) {
	all := append([]func(http.HandlerFunc) http.HandlerFunc{
		middleware.Instrument(path),
		middleware.WithClientIP(r.trustProxy),
	}, middlewares...)
	r.router.Handle(method, path, chain(handler, all...))
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if ok && claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, "forbidden")
				return
			}

			next(w, r)
		}
	}
}
