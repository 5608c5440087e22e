package middleware

import (
	"kidfun/internal/idgen"

	"github.com/gin-gonic/gin"
)

const (
	RequestIDKey = "X-Request-ID"

	maxRequestIDLength = 64
)

// RequestID injects a unique request ID into each request context.
// A caller-supplied ID is kept when it is short enough to log safely.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = idgen.New()
		}
		c.Header(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}
