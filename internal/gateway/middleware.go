package gateway

import (
	"crypto/x509/pkix"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sentineld/runtime/internal/auth"
	"github.com/sentineld/runtime/internal/rbac"
)

const authUserKey = "gateway.authUser"

// CurrentUser fetches the AuthUser the auth hook attached to c, if any.
func CurrentUser(c *gin.Context) (*auth.AuthUser, bool) {
	v, ok := c.Get(authUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*auth.AuthUser)
	return u, ok
}

// routeKey is how both the public/token-only sets and ROUTE_PERMISSIONS
// are indexed: gin's route template, not the expanded URL, so
// "/api/v1/tasks/:id" is one entry regardless of which task id a
// request names.
func routeKey(method, template string) string {
	return method + " " + template
}

// AuthMiddleware implements the auth hook: mTLS peer certificate, then
// bearer JWT, then API key, first success wins. Routes in publicRoutes
// skip this entirely.
func AuthMiddleware(svc *auth.Service, apiKeys auth.ApiKeyStore, publicRoutes map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeKey(c.Request.Method, c.FullPath())
		if publicRoutes[key] {
			c.Next()
			return
		}

		if user := tryCertificate(c); user != nil {
			c.Set(authUserKey, user)
			c.Next()
			return
		}

		if bearer := bearerToken(c); bearer != "" {
			user, err := svc.ValidateBearer(bearer)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.Set(authUserKey, user)
			c.Next()
			return
		}

		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			user, err := auth.ValidateApiKey(c.Request.Context(), apiKeys, apiKey)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.Set(authUserKey, user)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authentication credentials"})
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// tryCertificate extracts the identity a client's mTLS certificate
// implies: userId is the cert's CN and role is always rbac.RoleOperator.
// RBAC user assignments are not consulted for certificate callers.
func tryCertificate(c *gin.Context) *auth.AuthUser {
	if c.Request.TLS == nil || len(c.Request.TLS.PeerCertificates) == 0 {
		return nil
	}
	subject := c.Request.TLS.PeerCertificates[0].Subject
	cn := commonName(subject)
	if cn == "" {
		return nil
	}
	return &auth.AuthUser{
		UserID:     cn,
		Role:       rbac.RoleOperator,
		AuthMethod: auth.AuthMethodCertificate,
	}
}

func commonName(s pkix.Name) string {
	return s.CommonName
}

// RBACMiddleware implements the RBAC hook: routes in skipRoutes (public
// or token-only) pass through unchecked; routes absent from permissions
// are admin-only; everything else is checked against the caller's role.
func RBACMiddleware(engine *rbac.Engine, permissions map[string]RoutePermission, skipRoutes map[string]bool, onDeny func(c *gin.Context, user *auth.AuthUser)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeKey(c.Request.Method, c.FullPath())
		if skipRoutes[key] {
			c.Next()
			return
		}

		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authentication credentials"})
			return
		}

		perm, mapped := permissions[key]
		if !mapped {
			if user.Role != rbac.RoleAdmin {
				if onDeny != nil {
					onDeny(c, user)
				}
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no route permission mapping; admin only"})
				return
			}
			c.Next()
			return
		}

		result := engine.CheckPermission(user.Role, rbac.Check{Resource: perm.Resource, Action: perm.Action})
		if !result.Granted {
			if onDeny != nil {
				onDeny(c, user)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not permitted: " + perm.Action + " on " + perm.Resource})
			return
		}
		c.Next()
	}
}
