package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kidfun/internal/realtime"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// callbackPrefix marks decision buttons. Telegram caps callback data at 64
// bytes, so the fields are packed as ext|y|30|<request id>.
const callbackPrefix = "ext"

var ErrInvalidCallback = errors.New("invalid callback data")

// alternativeMinutes are offered next to the requested amount
var alternativeMinutes = []int{15, 30, 60}

// CallbackData is the decision carried by an inline button
type CallbackData struct {
	RequestID string
	Approved  bool
	Minutes   int
}

// MarshalCallback packs the decision into callback data
func MarshalCallback(data CallbackData) string {
	verdict := "n"
	if data.Approved {
		verdict = "y"
	}
	return fmt.Sprintf("%s|%s|%d|%s", callbackPrefix, verdict, data.Minutes, data.RequestID)
}

// UnmarshalCallback parses callback data produced by MarshalCallback
func UnmarshalCallback(data string) (*CallbackData, error) {
	parts := strings.SplitN(data, "|", 4)
	if len(parts) != 4 || parts[0] != callbackPrefix || parts[3] == "" {
		return nil, ErrInvalidCallback
	}

	minutes, err := strconv.Atoi(parts[2])
	if err != nil || minutes < 0 {
		return nil, ErrInvalidCallback
	}

	var approved bool
	switch parts[1] {
	case "y":
		approved = true
	case "n":
	default:
		return nil, ErrInvalidCallback
	}

	return &CallbackData{RequestID: parts[3], Approved: approved, Minutes: minutes}, nil
}

// BuildDecisionButtons creates the approve/deny keyboard for a request
func BuildDecisionButtons(req realtime.ExtensionRequest) tgbotapi.InlineKeyboardMarkup {
	approve := tgbotapi.NewInlineKeyboardButtonData(
		fmt.Sprintf("✅ Approve %d min", req.RequestedMinutes),
		MarshalCallback(CallbackData{RequestID: req.RequestID, Approved: true, Minutes: req.RequestedMinutes}),
	)
	deny := tgbotapi.NewInlineKeyboardButtonData(
		"❌ Deny",
		MarshalCallback(CallbackData{RequestID: req.RequestID}),
	)

	rows := [][]tgbotapi.InlineKeyboardButton{{approve, deny}}

	var others []tgbotapi.InlineKeyboardButton
	for _, minutes := range alternativeMinutes {
		if minutes == req.RequestedMinutes {
			continue
		}
		others = append(others, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("+%d", minutes),
			MarshalCallback(CallbackData{RequestID: req.RequestID, Approved: true, Minutes: minutes}),
		))
	}
	if len(others) > 0 {
		rows = append(rows, others)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
