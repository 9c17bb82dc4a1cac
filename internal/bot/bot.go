// Package bot is the Telegram front end: it delivers notifications and lets
// users manage their tracker request.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"realty_tracker/internal/config"
	"realty_tracker/internal/model"
	"realty_tracker/internal/storage"
)

// MaxMessageLength is the longest text Telegram accepts in one message.
const MaxMessageLength = 4096

const (
	pollTimeout = 60
	// apiTimeout bounds every Bot API call. It must outlast a long poll.
	apiTimeout = (pollTimeout + 30) * time.Second
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api   telegramAPI
	store storage.RequestStore
	cfg   *config.Config
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Bot with the given Telegram token, request store, and config.
func New(token string, store storage.RequestStore, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	client := &http.Client{Timeout: apiTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Send delivers a notification to a telegram notifier. It implements
// notify.Channel; delivery errors are returned to the caller.
func (b *Bot) Send(ctx context.Context, to model.Notifier, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.Kind != model.NotifierTelegram {
		return fmt.Errorf("unsupported notifier %q", to.Kind)
	}
	chatID, err := strconv.ParseInt(to.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to.Address, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// SendMessage sends a text message to the given chat, logging failures.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case "request":
		b.handleRequest(ctx, chatID, args)
	case cmdEnable:
		b.handleSetEnabled(ctx, chatID, true)
	case cmdDisable:
		b.handleSetEnabled(ctx, chatID, false)
	case "stop":
		b.handleStop(ctx, chatID)
	case "matches":
		b.handleMatches(ctx, chatID)
	case "user":
		if !b.cfg.IsAdmin(msg.From.ID) {
			b.reply(chatID, "Access denied.")
			return
		}
		b.handleUser(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
