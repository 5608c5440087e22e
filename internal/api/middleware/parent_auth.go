package middleware

import (
	"net/http"
	"strings"

	"kidfun/internal/auth"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the context key for the authenticated parent's *auth.Claims
const ClaimsKey = "parent_claims"

// TokenValidator validates parent bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// ParentAuth validates parent tokens from the Authorization Bearer header.
// WebSocket clients that cannot set headers may pass ?token= instead.
func ParentAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
					Error: "Invalid authorization scheme. Use Bearer token.",
					Code:  "INVALID_AUTH_SCHEME",
				})
				return
			}
			token = strings.TrimPrefix(authHeader, bearerPrefix)
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
				Error: "Authorization header required",
				Code:  "AUTH_REQUIRED",
			})
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(authenticatedKey, true)
		c.Next()
	}
}

// GetClaims retrieves the authenticated parent's claims from context
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}
