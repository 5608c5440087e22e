package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"kidfun/internal/core"

	"github.com/gin-gonic/gin"
)

// Authenticator verifies parent credentials and issues tokens
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*core.Account, string, error)
}

// AuthHandler handles parent login
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger.With("component", "auth-api"),
	}
}

// Login exchanges email and password for a bearer token
// POST /v1/auth/login (PUBLIC - no auth required)
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	account, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, "Failed to log in", err)
		return
	}

	h.logger.Info("Parent logged in", "account_id", account.ID)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"account_id": account.ID,
	})
}
