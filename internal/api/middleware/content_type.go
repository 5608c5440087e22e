package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// RequireJSON rejects write requests whose body is not JSON. Bodiless
// writes, like a session start without options, pass through.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if c.Request.ContentLength != 0 && c.ContentType() != binding.MIMEJSON {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, ErrorBody{
					Error: "Content-Type must be " + binding.MIMEJSON,
					Code:  "INVALID_CONTENT_TYPE",
				})
				return
			}
		}
		c.Next()
	}
}
