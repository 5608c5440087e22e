// Package bot relays extension requests to parents on Telegram and sends
// their decisions back to the family channel.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kidfun/config"
	"kidfun/internal/core"
	"kidfun/internal/realtime"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	pendingCacheSize = 256
	pendingTTL       = 24 * time.Hour
	respondTimeout   = 10 * time.Second
)

// Sender is the part of the Telegram API the bot uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Channel is the family channel the bot listens on and answers through
type Channel interface {
	Join(member realtime.Member) (*realtime.Subscription, error)
	RespondExtension(ctx context.Context, familyID string, resp realtime.ExtensionResponse) (*realtime.ExtensionResponse, error)
}

// Stats provides the figures behind /today
type Stats interface {
	ListProfiles(ctx context.Context, accountID string) ([]*core.Profile, error)
	GetUsageStats(ctx context.Context, profileID string, from, to time.Time) (*core.UsageStats, error)
}

// sentMessage is a request notification posted to one chat
type sentMessage struct {
	chatID    int64
	messageID int
}

// pendingRequest is an extension request still waiting for a decision
type pendingRequest struct {
	familyID string
	request  realtime.ExtensionRequest
	messages []sentMessage
}

// Bot represents the Telegram bot
type Bot struct {
	api      Sender
	channel  Channel
	stats    Stats
	config   config.TelegramConfig
	clock    core.Clock
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	pending *expirable.LRU[string, *pendingRequest]
}

// NewBot creates a new Telegram bot instance. stats may be nil, which
// disables /today.
func NewBot(api Sender, channel Channel, stats Stats, cfg config.TelegramConfig, clock core.Clock, location *time.Location, logger *slog.Logger) *Bot {
	if clock == nil {
		clock = core.RealClock{}
	}
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		api:      api,
		channel:  channel,
		stats:    stats,
		config:   cfg,
		clock:    clock,
		location: location,
		logger:   logger.With("component", "telegram-bot"),
		pending:  expirable.NewLRU[string, *pendingRequest](pendingCacheSize, nil, pendingTTL),
	}
}

// Run joins every configured family channel as a parent and relays its
// events until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	joined := make(map[string]bool)

	for _, family := range b.config.Families {
		if joined[family.AccountID] {
			continue
		}
		joined[family.AccountID] = true

		sub, err := b.channel.Join(realtime.Member{
			FamilyID:  family.AccountID,
			Role:      realtime.RoleParent,
			AccountID: family.AccountID,
		})
		if err != nil {
			return fmt.Errorf("failed to join family %s: %w", family.AccountID, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Leave()
			b.listen(ctx, sub)
		}()
	}

	b.logger.Info("Telegram bot listening", "families", len(joined))
	wg.Wait()
	return nil
}

func (b *Bot) listen(ctx context.Context, sub *realtime.Subscription) {
	familyID := sub.Member().FamilyID
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			b.handleEvent(familyID, env)
		}
	}
}

func (b *Bot) handleEvent(familyID string, env realtime.Envelope) {
	switch env.Type {
	case realtime.EventExtensionRequest:
		var req realtime.ExtensionRequest
		if err := env.Decode(&req); err != nil {
			b.logger.Warn("Dropping malformed extension request", "family_id", familyID, "error", err)
			return
		}
		b.announceRequest(familyID, req)

	case realtime.EventExtensionResponse:
		var resp realtime.ExtensionResponse
		if err := env.Decode(&resp); err != nil {
			return
		}
		// Answered elsewhere, e.g. from the parent app
		if pending := b.take(resp.RequestID); pending != nil {
			b.closeRequest(pending, FormatDecision(pending.request, resp, ""))
		}

	case realtime.EventDeviceRemoved:
		var removed realtime.DeviceRemoved
		if err := env.Decode(&removed); err != nil {
			return
		}
		for _, chatID := range b.config.ChatsForFamily(familyID) {
			b.sendMessage(chatID, FormatDeviceRemoved(removed), nil)
		}
	}
}

func (b *Bot) announceRequest(familyID string, req realtime.ExtensionRequest) {
	pending := &pendingRequest{familyID: familyID, request: req}
	text := FormatExtensionRequest(req)
	keyboard := BuildDecisionButtons(req)

	for _, chatID := range b.config.ChatsForFamily(familyID) {
		msg, err := b.sendMessage(chatID, text, &keyboard)
		if err != nil {
			continue
		}
		pending.messages = append(pending.messages, sentMessage{chatID: chatID, messageID: msg.MessageID})
	}

	if len(pending.messages) == 0 {
		return
	}

	b.mu.Lock()
	b.pending.Add(req.RequestID, pending)
	b.mu.Unlock()

	b.logger.Info("Extension request forwarded",
		"family_id", familyID,
		"request_id", req.RequestID,
		"chats", len(pending.messages))
}

// take removes and returns a pending request; a request can only be taken once
func (b *Bot) take(requestID string) *pendingRequest {
	if requestID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, ok := b.pending.Get(requestID)
	if !ok {
		return nil
	}
	b.pending.Remove(requestID)
	return pending
}

func (b *Bot) restore(requestID string, pending *pendingRequest) {
	b.mu.Lock()
	b.pending.Add(requestID, pending)
	b.mu.Unlock()
}

// closeRequest replaces every notification of the request with the outcome
func (b *Bot) closeRequest(pending *pendingRequest, text string) {
	for _, msg := range pending.messages {
		b.editMessage(msg.chatID, msg.messageID, text)
	}
}

// HandleUpdate processes a Telegram update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.Message != nil {
		return b.handleMessage(ctx, update.Message)
	}
	if update.CallbackQuery != nil {
		return b.handleCallback(ctx, update.CallbackQuery)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message.Chat == nil || !message.IsCommand() {
		return nil
	}

	familyID, linked := b.config.FamilyForChat(message.Chat.ID)

	switch message.Command() {
	case "start", "help":
		_, err := b.sendMessage(message.Chat.ID, FormatWelcome(message.Chat.ID, linked), nil)
		return err
	case "today":
		if !linked {
			_, err := b.sendMessage(message.Chat.ID, FormatWelcome(message.Chat.ID, false), nil)
			return err
		}
		return b.handleToday(ctx, message.Chat.ID, familyID)
	default:
		_, err := b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.", nil)
		return err
	}
}

func (b *Bot) handleToday(ctx context.Context, chatID int64, familyID string) error {
	if b.stats == nil {
		_, err := b.sendMessage(chatID, "Usage statistics are not available.", nil)
		return err
	}

	profiles, err := b.stats.ListProfiles(ctx, familyID)
	if err != nil {
		_, _ = b.sendMessage(chatID, FormatError(err), nil)
		return err
	}

	from, to := core.DayBounds(b.clock.Now().In(b.location))
	var usage []ProfileUsage
	for _, profile := range profiles {
		stats, err := b.stats.GetUsageStats(ctx, profile.ID, from, to)
		if err != nil {
			_, _ = b.sendMessage(chatID, FormatError(err), nil)
			return err
		}
		usage = append(usage, ProfileUsage{Name: profile.Name, Minutes: stats.TotalMinutes()})
	}

	_, err = b.sendMessage(chatID, FormatToday(from, usage), nil)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Message == nil || callback.Message.Chat == nil {
		return nil
	}
	chatID := callback.Message.Chat.ID

	familyID, linked := b.config.FamilyForChat(chatID)
	if !linked {
		b.logger.Warn("Unauthorized callback", "chat_id", chatID)
		b.answerCallback(callback.ID, "⛔ This chat is not linked to a family.")
		return nil
	}

	data, err := UnmarshalCallback(callback.Data)
	if err != nil {
		b.answerCallback(callback.ID, "Unknown action.")
		return nil
	}

	pending := b.take(data.RequestID)
	if pending == nil {
		b.answerCallback(callback.ID, "This request was already answered.")
		b.editMessage(chatID, callback.Message.MessageID, FormatExpired())
		return nil
	}
	if pending.familyID != familyID {
		b.restore(data.RequestID, pending)
		b.answerCallback(callback.ID, "⛔ This request belongs to another family.")
		return nil
	}

	decidedBy := ""
	if callback.From != nil {
		decidedBy = callback.From.FirstName
	}
	resp := realtime.ExtensionResponse{
		RequestID:         data.RequestID,
		Approved:          data.Approved,
		AdditionalMinutes: data.Minutes,
	}
	if decidedBy != "" {
		resp.Message = "Answered by " + decidedBy
	}

	respondCtx, cancel := context.WithTimeout(ctx, respondTimeout)
	defer cancel()

	published, err := b.channel.RespondExtension(respondCtx, familyID, resp)
	if err != nil {
		b.restore(data.RequestID, pending)
		b.logger.Error("Failed to publish extension decision",
			"family_id", familyID,
			"request_id", data.RequestID,
			"error", err)
		msg := "Could not send the decision, please try again."
		if errors.Is(err, core.ErrInvalidInput) {
			msg = "Invalid decision."
		}
		b.answerCallback(callback.ID, msg)
		return nil
	}

	b.logger.Info("Extension decided on Telegram",
		"family_id", familyID,
		"request_id", data.RequestID,
		"approved", published.Approved,
		"additional_minutes", published.AdditionalMinutes)

	b.answerCallback(callback.ID, "")
	b.closeRequest(pending, FormatDecision(pending.request, *published, decidedBy))
	return nil
}

// sendMessage sends a Markdown message, optionally with inline buttons
func (b *Bot) sendMessage(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
		return tgbotapi.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	return sent, nil
}

// editMessage replaces a message's text and drops its buttons
func (b *Bot) editMessage(chatID int64, messageID int, text string) {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to edit message",
			"chat_id", chatID,
			"message_id", messageID,
			"error", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Error("Failed to answer callback", "error", err)
	}
}
