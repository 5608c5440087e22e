package handlers

import (
	"log/slog"
	"net/http"

	"kidfun/internal/core"
	"kidfun/internal/metrics"
	"kidfun/internal/realtime"
	"kidfun/internal/storage"

	"github.com/gin-gonic/gin"
)

// ChildHandler handles requests from child devices. Every route runs behind
// DeviceAuth, so the device is already resolved.
type ChildHandler struct {
	storage storage.Storage
	manager core.SessionManagerInterface
	channel *realtime.Channel
	clock   core.Clock
	logger  *slog.Logger
}

// NewChildHandler creates a new child handler
func NewChildHandler(
	storage storage.Storage,
	manager core.SessionManagerInterface,
	channel *realtime.Channel,
	clock core.Clock,
	logger *slog.Logger,
) *ChildHandler {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &ChildHandler{
		storage: storage,
		manager: manager,
		channel: channel,
		clock:   clock,
		logger:  logger.With("component", "child-api"),
	}
}

type activeSessionResponse struct {
	ID              string `json:"id"`
	StartTime       string `json:"start_time"`
	ReportedMinutes int    `json:"reported_minutes"`
	BonusMinutes    int    `json:"bonus_minutes"`
}

// GetStatus returns the remaining budget of the device's profile
// GET /child/status
func (h *ChildHandler) GetStatus(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	status, err := h.manager.GetStatus(c.Request.Context(), device, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to get status", err)
		return
	}

	response := gin.H{
		"device_id":  device.ID,
		"profile_id": status.ProfileID,
		"remaining":  status.Remaining,
	}
	if status.ActiveSession != nil {
		response["active_session"] = activeSessionResponse{
			ID:              status.ActiveSession.ID,
			StartTime:       status.ActiveSession.StartTime.Format(timeFormat),
			ReportedMinutes: status.ActiveSession.ReportedMinutes,
			BonusMinutes:    status.ActiveSession.BonusMinutes,
		}
	}

	c.JSON(http.StatusOK, response)
}

// StartSession opens a new session on the device
// POST /child/session/start
func (h *ChildHandler) StartSession(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	// The body is optional
	var req struct {
		AppName      string `json:"app_name"`
		ActivityType string `json:"activity_type"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	result, err := h.manager.StartSession(c.Request.Context(), device, core.StartOptions{
		AppName:      req.AppName,
		ActivityType: req.ActivityType,
	}, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to start session", err)
		return
	}

	metrics.SessionsStarted.Inc()
	if n := len(result.Replaced); n > 0 {
		metrics.SessionsEnded.WithLabelValues(core.EndReasonSuperseded).Add(float64(n))
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": result.Session.ID,
		"remaining":  result.Remaining,
	})
}

// Heartbeat records liveness and the client's elapsed count
// POST /child/session/heartbeat
func (h *ChildHandler) Heartbeat(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	var req struct {
		SessionID      string `json:"session_id" binding:"required"`
		ElapsedMinutes *int   `json:"elapsed_minutes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.manager.Heartbeat(c.Request.Context(), device, req.SessionID, *req.ElapsedMinutes, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to record heartbeat", err)
		return
	}

	metrics.Heartbeats.Inc()

	response := gin.H{
		"session_id":        result.Session.ID,
		"remaining_minutes": result.Remaining.RemainingMinutes,
		"remaining":         result.Remaining,
	}
	if result.Warning != nil {
		metrics.WarningsFired.WithLabelValues(result.Warning.Type).Inc()
		response["warning"] = warningResponse(result.Warning)
	}

	c.JSON(http.StatusOK, response)
}

// EndSession completes a session. Ending an already completed session is a
// no-op answered with its recorded totals.
// POST /child/session/end
func (h *ChildHandler) EndSession(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = core.EndReasonAppClosed
	}

	result, err := h.manager.EndSession(c.Request.Context(), device, req.SessionID, req.Reason, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to end session", err)
		return
	}

	if !result.AlreadyEnded {
		metrics.SessionsEnded.WithLabelValues(result.Reason).Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":            result.SessionID,
		"total_elapsed_minutes": result.TotalElapsedMinutes,
		"reason":                result.Reason,
		"already_ended":         result.AlreadyEnded,
	})
}

// AddBonus grants extra minutes to the device's active session
// POST /child/bonus
func (h *ChildHandler) AddBonus(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	var req struct {
		AdditionalMinutes int `json:"additional_minutes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.manager.AddBonus(c.Request.Context(), device, req.AdditionalMinutes, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to add bonus", err)
		return
	}

	metrics.BonusMinutesGranted.Add(float64(req.AdditionalMinutes))

	c.JSON(http.StatusOK, gin.H{
		"session_id":        result.SessionID,
		"bonus_minutes":     result.BonusMinutes,
		"remaining_minutes": result.Remaining.RemainingMinutes,
	})
}

// RecordWarning stores a warning reported by the device
// POST /child/warnings
func (h *ChildHandler) RecordWarning(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	var req struct {
		WarningType      string `json:"warning_type" binding:"required"`
		Message          string `json:"message"`
		RemainingMinutes int    `json:"remaining_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	warning, err := h.manager.RecordWarning(c.Request.Context(), device, req.WarningType, req.Message, req.RemainingMinutes, h.clock.Now())
	if err != nil {
		writeError(c, h.logger, "Failed to record warning", err)
		return
	}

	// Custom types are free text; keep the label set bounded
	label := warning.Type
	if _, ok := core.ParseWarningType(label); !ok {
		label = "custom"
	}
	metrics.WarningsFired.WithLabelValues(label).Inc()

	c.JSON(http.StatusCreated, warningResponse(warning))
}

// RequestExtension asks the family's parents for more time
// POST /child/extension/request
func (h *ChildHandler) RequestExtension(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	var req struct {
		Reason           string `json:"reason"`
		RequestedMinutes int    `json:"requested_minutes"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	profileName := ""
	if device.Assigned() {
		profile, err := h.storage.GetProfile(c.Request.Context(), device.ProfileID)
		if err != nil {
			writeError(c, h.logger, "Failed to load profile", err)
			return
		}
		profileName = profile.Name
	}

	sent, err := h.channel.RequestExtension(c.Request.Context(), device.AccountID, realtime.ExtensionRequest{
		DeviceID:         device.ID,
		DeviceName:       device.Name,
		ProfileName:      profileName,
		Reason:           req.Reason,
		RequestedMinutes: req.RequestedMinutes,
	})
	if err != nil {
		writeError(c, h.logger, "Failed to publish extension request", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id":        sent.RequestID,
		"requested_minutes": sent.RequestedMinutes,
	})
}

// Subscribe upgrades to a WebSocket subscribed to the family channel as a child
// GET /child/ws
func (h *ChildHandler) Subscribe(c *gin.Context) {
	device, ok := requireDevice(c)
	if !ok {
		return
	}

	member := realtime.Member{
		FamilyID:   device.AccountID,
		Role:       realtime.RoleChild,
		DeviceID:   device.ID,
		DeviceName: device.Name,
		AccountID:  device.AccountID,
	}
	if device.Assigned() {
		if profile, err := h.storage.GetProfile(c.Request.Context(), device.ProfileID); err == nil {
			member.ProfileName = profile.Name
		}
	}

	serveChannel(c, h.channel, member, h.logger)
}
