package handlers

import (
	"log/slog"
	"net/http"

	"kidfun/internal/api/middleware"
	"kidfun/internal/core"

	"github.com/gin-gonic/gin"
)

// writeError maps err onto the error taxonomy response. Server-side
// failures are logged with the request id; client errors are not.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, _ := middleware.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			"request_id", c.GetString(middleware.RequestIDKey),
			"path", c.Request.URL.Path,
			"error", err)
	}
	middleware.AbortWithError(c, err)
}

// badRequest answers a body that failed to bind
func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, middleware.ErrorBody{
		Error: "Invalid request body: " + err.Error(),
		Code:  "INVALID_REQUEST",
	})
}

// requireDevice fetches the device set by DeviceAuth
func requireDevice(c *gin.Context) (*core.Device, bool) {
	device, ok := middleware.GetDevice(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.ErrorBody{
			Error: "Device authentication required",
			Code:  "AUTH_REQUIRED",
		})
		return nil, false
	}
	return device, true
}
