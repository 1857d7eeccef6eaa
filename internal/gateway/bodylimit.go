package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxRequestBodyBytes bounds a task submission's input payload; nothing
// this gateway accepts (login, api-key, task create) needs more.
const maxRequestBodyBytes int64 = 5 * 1024 * 1024

// BodySizeLimit rejects oversized request bodies before they reach
// ShouldBindJSON, so a caller can't exhaust memory with a single huge
// submission.
func BodySizeLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxRequestBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds maximum allowed size"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
		c.Next()
	}
}
