package bot

import (
	"fmt"
	"strings"
	"time"

	"kidfun/internal/realtime"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ProfileUsage is one line of the /today summary
type ProfileUsage struct {
	Name    string
	Minutes int
}

func escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text)
}

// FormatWelcome formats the /start reply
func FormatWelcome(chatID int64, linked bool) string {
	var sb strings.Builder

	sb.WriteString("👋 *KidFun Screen Time Bot*\n\n")
	if !linked {
		sb.WriteString("This chat is not linked to a family yet.\n")
		sb.WriteString(fmt.Sprintf("Add chat id `%d` to telegram.families in the server config.\n", chatID))
		return sb.String()
	}

	sb.WriteString("I will post your children's requests for more screen time here.\n\n")
	sb.WriteString("*Available Commands:*\n")
	sb.WriteString("📊 /today - Today's screen time per child\n")
	return sb.String()
}

// FormatExtensionRequest formats a child's request for more time
func FormatExtensionRequest(req realtime.ExtensionRequest) string {
	var sb strings.Builder

	name := req.ProfileName
	if name == "" {
		name = "Your child"
	}
	sb.WriteString(fmt.Sprintf("⏰ *%s* asks for *%d more minutes*\n", escape(name), req.RequestedMinutes))
	if req.DeviceName != "" {
		sb.WriteString(fmt.Sprintf("Device: %s\n", escape(req.DeviceName)))
	}
	if req.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason: _%s_\n", escape(req.Reason)))
	}
	return sb.String()
}

// FormatDecision formats the outcome shown in place of the request
func FormatDecision(req realtime.ExtensionRequest, resp realtime.ExtensionResponse, decidedBy string) string {
	name := req.ProfileName
	if name == "" {
		name = "Your child"
	}

	var text string
	if resp.Approved {
		text = fmt.Sprintf("✅ Approved *%d more minutes* for %s", resp.AdditionalMinutes, escape(name))
	} else {
		text = fmt.Sprintf("❌ Denied more time for %s", escape(name))
	}
	if decidedBy != "" {
		text += fmt.Sprintf(" (by %s)", escape(decidedBy))
	}
	return text
}

// FormatExpired replaces buttons of requests the bot no longer tracks
func FormatExpired() string {
	return "⌛ This request was already answered."
}

// FormatDeviceRemoved formats an unlink notification
func FormatDeviceRemoved(removed realtime.DeviceRemoved) string {
	return fmt.Sprintf("📵 Device `%s` was unlinked.", removed.DeviceID)
}

// FormatToday formats the /today summary
func FormatToday(day time.Time, usage []ProfileUsage) string {
	var sb strings.Builder

	sb.WriteString("📊 *Today's Screen Time Summary*\n")
	sb.WriteString(fmt.Sprintf("Date: %s\n\n", day.Format("2006-01-02")))

	if len(usage) == 0 {
		sb.WriteString("No children configured yet.\n")
		return sb.String()
	}

	for _, u := range usage {
		sb.WriteString(fmt.Sprintf("👶 *%s*: %s\n", escape(u.Name), formatMinutes(u.Minutes)))
	}
	return sb.String()
}

// FormatError formats an error message
func FormatError(err error) string {
	return fmt.Sprintf("❌ *Error:* %s", escape(err.Error()))
}

func formatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}
