package bot

import (
	"context"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
)

// SecretTokenHeader carries the secret Telegram echoes on every webhook call
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler handles incoming webhook requests from Telegram
type WebhookHandler struct {
	bot    *Bot
	logger *slog.Logger
	secret string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(bot *Bot, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		bot:    bot,
		logger: logger.With("component", "telegram-webhook"),
		secret: secret,
	}
}

// HandleWebhook processes incoming webhook requests
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	if h.secret != "" && c.GetHeader(SecretTokenHeader) != h.secret {
		h.logger.Warn("Invalid webhook secret token", "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret token"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Error("Failed to unmarshal update", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update format"})
		return
	}

	h.logger.Debug("Received webhook update", "update_id", update.UpdateID)

	if err := h.bot.HandleUpdate(c.Request.Context(), update); err != nil {
		// Still return 200 to Telegram to avoid retries
		h.logger.Error("Failed to handle update", "update_id", update.UpdateID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Poll handles updates from long polling until ctx is done or updates closes
func (b *Bot) Poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.HandleUpdate(ctx, update); err != nil {
				b.logger.Error("Failed to handle update", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}
