package gateway

import "github.com/gin-gonic/gin"

// SecurityHeaders sets the response headers appropriate for a JSON/WS
// API with no HTML surface of its own: it skips the CSP/nonce machinery
// the teacher's browser-facing variant carries (there is no markup here
// for a nonce to authorize) and keeps the headers that still apply to a
// pure API — HSTS, anti-sniff, anti-framing, and no-store for anything
// that might carry a token or credential.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
