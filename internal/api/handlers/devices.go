package handlers

import (
	"log/slog"
	"net/http"

	"kidfun/internal/api/middleware"
	"kidfun/internal/devices"

	"github.com/gin-gonic/gin"
)

// DevicesHandler handles parent device management requests
type DevicesHandler struct {
	unlinker *devices.Unlinker
	logger   *slog.Logger
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(unlinker *devices.Unlinker, logger *slog.Logger) *DevicesHandler {
	return &DevicesHandler{
		unlinker: unlinker,
		logger:   logger.With("component", "devices-api"),
	}
}

// UnlinkDevice detaches a device from its profile
// DELETE /v1/devices/:id
func (h *DevicesHandler) UnlinkDevice(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.ErrorBody{
			Error: "Authorization required",
			Code:  "AUTH_REQUIRED",
		})
		return
	}

	result, err := h.unlinker.Unlink(c.Request.Context(), claims.AccountID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to unlink device", err)
		return
	}

	response := gin.H{
		"device_id": result.Device.ID,
		"notified":  result.Notified,
	}
	if result.EndedSession != nil {
		response["ended_session_id"] = result.EndedSession.SessionID
		response["total_elapsed_minutes"] = result.EndedSession.TotalElapsedMinutes
	}

	c.JSON(http.StatusOK, response)
}
