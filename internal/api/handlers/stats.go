package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kidfun/internal/api/middleware"
	"kidfun/internal/core"
	"kidfun/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	timeFormat = time.RFC3339
	dateFormat = "2006-01-02"

	recentWarningsLimit = 50
)

// StatsHandler handles parent reporting requests
type StatsHandler struct {
	storage  storage.Storage
	clock    core.Clock
	location *time.Location
	logger   *slog.Logger
}

// NewStatsHandler creates a new stats handler. Date-only query parameters
// are interpreted in location.
func NewStatsHandler(storage storage.Storage, clock core.Clock, location *time.Location, logger *slog.Logger) *StatsHandler {
	if clock == nil {
		clock = core.RealClock{}
	}
	if location == nil {
		location = time.Local
	}
	return &StatsHandler{
		storage:  storage,
		clock:    clock,
		location: location,
		logger:   logger.With("component", "stats-api"),
	}
}

// GetUsage returns aggregated usage for a profile over a date range.
// Both bounds are optional and default to today.
// GET /v1/profiles/:id/usage?from=2024-01-01&to=2024-01-07
func (h *StatsHandler) GetUsage(c *gin.Context) {
	profile, ok := h.ownedProfile(c)
	if !ok {
		return
	}

	from, to, err := h.parseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	stats, err := h.storage.GetUsageStats(c.Request.Context(), profile.ID, from, to)
	if err != nil {
		writeError(c, h.logger, "Failed to get usage stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile_id":    profile.ID,
		"from":          from.Format(timeFormat),
		"to":            to.Format(timeFormat),
		"total_minutes": stats.TotalMinutes(),
		"total_hours":   stats.TotalHours(),
		"log_count":     stats.LogCount,
	})
}

// ListWarnings returns the most recent warnings of a profile
// GET /v1/profiles/:id/warnings
func (h *StatsHandler) ListWarnings(c *gin.Context) {
	profile, ok := h.ownedProfile(c)
	if !ok {
		return
	}

	warnings, err := h.storage.ListRecentWarnings(c.Request.Context(), profile.ID, recentWarningsLimit)
	if err != nil {
		writeError(c, h.logger, "Failed to list warnings", err)
		return
	}

	response := make([]gin.H, 0, len(warnings))
	for _, w := range warnings {
		response = append(response, warningResponse(w))
	}

	c.JSON(http.StatusOK, response)
}

// ownedProfile loads the :id profile and checks it belongs to the caller.
// Profiles of other accounts are reported as not found.
func (h *StatsHandler) ownedProfile(c *gin.Context) (*core.Profile, bool) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.ErrorBody{
			Error: "Authorization required",
			Code:  "AUTH_REQUIRED",
		})
		return nil, false
	}

	profile, err := h.storage.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "Failed to get profile", err)
		return nil, false
	}
	if profile.AccountID != claims.AccountID {
		middleware.AbortWithError(c, core.ErrProfileNotFound)
		return nil, false
	}

	return profile, true
}

// parseRange accepts dates (YYYY-MM-DD, to is inclusive) or RFC3339 instants
func (h *StatsHandler) parseRange(fromParam, toParam string) (time.Time, time.Time, error) {
	todayStart, _ := core.DayBounds(h.clock.Now().In(h.location))

	from := todayStart
	if fromParam != "" {
		t, _, err := h.parseBound(fromParam)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}

	to := from.AddDate(0, 0, 1)
	if toParam != "" {
		t, dateOnly, err := h.parseBound(toParam)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
	}

	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to must be after from", core.ErrInvalidInput)
	}

	return from, to, nil
}

func (h *StatsHandler) parseBound(value string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(dateFormat, value, h.location); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid date %q", core.ErrInvalidInput, value)
	}
	return t, false, nil
}

func warningResponse(w *core.Warning) gin.H {
	return gin.H{
		"id":                w.ID,
		"profile_id":        w.ProfileID,
		"device_id":         w.DeviceID,
		"warning_type":      w.Type,
		"message":           w.Message,
		"remaining_minutes": w.RemainingMinutes,
		"created_at":        w.CreatedAt.Format(timeFormat),
	}
}
