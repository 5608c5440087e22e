package handlers

import (
	"log/slog"
	"net/http"

	"kidfun/internal/api/middleware"
	"kidfun/internal/realtime"

	"github.com/gin-gonic/gin"
)

// ParentHandler handles the parent side of the extension channel
type ParentHandler struct {
	channel *realtime.Channel
	logger  *slog.Logger
}

// NewParentHandler creates a new parent handler
func NewParentHandler(channel *realtime.Channel, logger *slog.Logger) *ParentHandler {
	return &ParentHandler{
		channel: channel,
		logger:  logger.With("component", "parent-api"),
	}
}

// RespondExtension publishes a parent's decision to the family
// POST /v1/extension/respond
func (h *ParentHandler) RespondExtension(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.ErrorBody{
			Error: "Authorization required",
			Code:  "AUTH_REQUIRED",
		})
		return
	}

	var req struct {
		RequestID         string `json:"request_id"`
		Approved          *bool  `json:"approved" binding:"required"`
		AdditionalMinutes int    `json:"additional_minutes"`
		Message           string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sent, err := h.channel.RespondExtension(c.Request.Context(), claims.AccountID, realtime.ExtensionResponse{
		RequestID:         req.RequestID,
		Approved:          *req.Approved,
		AdditionalMinutes: req.AdditionalMinutes,
		Message:           req.Message,
	})
	if err != nil {
		writeError(c, h.logger, "Failed to publish extension response", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id":         sent.RequestID,
		"approved":           sent.Approved,
		"additional_minutes": sent.AdditionalMinutes,
	})
}

// Subscribe upgrades to a WebSocket subscribed to the family channel as a parent
// GET /v1/ws
func (h *ParentHandler) Subscribe(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.ErrorBody{
			Error: "Authorization required",
			Code:  "AUTH_REQUIRED",
		})
		return
	}

	serveChannel(c, h.channel, realtime.Member{
		FamilyID:  claims.AccountID,
		Role:      realtime.RoleParent,
		AccountID: claims.AccountID,
	}, h.logger)
}
