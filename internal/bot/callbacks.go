package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"realty_tracker/internal/model"
)

const (
	cmdEnable  = "enable"
	cmdDisable = "disable"
)

// sendWithToggle sends text with a button that flips the request's state.
func (b *Bot) sendWithToggle(chatID int64, text string, req *model.TrackerRequest) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	label, action := "Disable notifications", cmdDisable
	if !req.Enabled {
		label, action = "Enable notifications", cmdEnable
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, action+":"+req.ID),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, requestID, ok := strings.Cut(data, ":")
	if !ok || requestID == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"request_id", requestID,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.reply(chatID, "Access denied.")
		return
	}

	// Buttons of a replaced request are stale.
	req, err := b.chatRequest(ctx, chatID)
	if err != nil || req == nil || req.ID != requestID {
		b.reply(chatID, "This request no longer exists.")
		return
	}

	switch action {
	case cmdEnable:
		b.handleSetEnabled(ctx, chatID, true)
	case cmdDisable:
		b.handleSetEnabled(ctx, chatID, false)
	}
}
