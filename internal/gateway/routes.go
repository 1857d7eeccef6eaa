package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RoutePermission is one entry of ROUTE_PERMISSIONS: the {resource,
// action} pair the RBAC hook checks for a given route template+method.
type RoutePermission struct {
	Resource string
	Action   string
}

// publicRoutes need no authentication at all.
var publicRoutes = map[string]bool{
	routeKey(http.MethodGet, "/health"):             true,
	routeKey(http.MethodPost, "/api/v1/auth/login"): true,
	routeKey(http.MethodGet, "/ws/metrics"):         true,
}

// tokenOnlyRoutes require a valid AuthUser but skip the RBAC hook
// entirely — the operation is inherently about the caller's own session.
var tokenOnlyRoutes = map[string]bool{
	routeKey(http.MethodPost, "/api/v1/auth/refresh"):        true,
	routeKey(http.MethodPost, "/api/v1/auth/logout"):         true,
	routeKey(http.MethodPost, "/api/v1/auth/reset-password"): true,
}

// routePermissions is ROUTE_PERMISSIONS: every mapped route's
// {resource, action}. A route absent here is admin-only by default
// (see RBACMiddleware).
var routePermissions = map[string]RoutePermission{
	routeKey(http.MethodPost, "/api/v1/auth/verify"):         {"auth", "read"},
	routeKey(http.MethodGet, "/api/v1/auth/api-keys"):        {"auth", "read"},
	routeKey(http.MethodPost, "/api/v1/auth/api-keys"):       {"auth", "write"},
	routeKey(http.MethodDelete, "/api/v1/auth/api-keys/:id"): {"auth", "write"},
	routeKey(http.MethodGet, "/api/v1/metrics"):              {"metrics", "read"},
	routeKey(http.MethodPost, "/api/v1/audit/verify"):        {"audit", "verify"},
	routeKey(http.MethodPost, "/api/v1/tasks"):               {"tasks", "create"},
	routeKey(http.MethodGet, "/api/v1/tasks/:id"):            {"tasks", "read"},
	routeKey(http.MethodPost, "/api/v1/tasks/:id/cancel"):    {"tasks", "cancel"},
}

// skipRBAC is the union of publicRoutes and tokenOnlyRoutes: the set of
// routes the RBAC hook never evaluates.
func skipRBAC() map[string]bool {
	skip := make(map[string]bool, len(publicRoutes)+len(tokenOnlyRoutes))
	for k := range publicRoutes {
		skip[k] = true
	}
	for k := range tokenOnlyRoutes {
		skip[k] = true
	}
	return skip
}

// registerRoutes wires the gateway's HTTP routes to their handlers. Of
// §6's surface, the role (/auth/roles) and user-assignment
// (/auth/assignments) routes are not registered.
func (g *Gateway) registerRoutes(r gin.IRouter) {
	r.GET("/health", g.handleHealth)

	v1 := r.Group("/api/v1")
	{
		a := v1.Group("/auth")
		a.POST("/login", g.handleLogin)
		a.POST("/refresh", g.handleRefresh)
		a.POST("/logout", g.handleLogout)
		a.POST("/reset-password", g.handleResetPassword)
		a.POST("/verify", g.handleVerify)
		a.GET("/api-keys", g.handleListApiKeys)
		a.POST("/api-keys", g.handleCreateApiKey)
		a.DELETE("/api-keys/:id", g.handleRevokeApiKey)

		v1.GET("/metrics", g.handleMetrics)
		v1.POST("/audit/verify", g.handleAuditVerify)

		t := v1.Group("/tasks")
		t.POST("", g.handleSubmitTask)
		t.GET("/:id", g.handleGetTask)
		t.POST("/:id/cancel", g.handleCancelTask)
	}

	r.GET("/ws/metrics", g.handleMetricsWS)
}
