package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"realty_tracker/internal/model"
	"realty_tracker/internal/storage"
)

// newRequestLookback is how far back a fresh request looks for listings.
const newRequestLookback = 10 * time.Minute

// latestMatches is how many match ids /matches lists.
const latestMatches = 5

const requestHelp = `To create or change your request, send filters separated by ";", for example:
/request price-total min:200 max:300; area max:500; rooms min:5
/request area min:100; bedrooms min:5

Filters:
price-total — total price
price-per-meter — price per m2
price-per-room — price per room
price-per-bedroom — price per bedroom
area — area in m2
rooms — number of rooms
bedrooms — number of bedrooms

Only one price filter and one of rooms/bedrooms apply. Each filter takes min:N and/or max:N. Prices are in dollars.`

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	req, err := b.chatRequest(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if req == nil {
		b.reply(chatID, `Welcome to Realty Tracker!

I watch listing sites and notify you about new listings that match your request.
You have no request yet. Create one with /request.

Use /help for the full command reference.`)
		return
	}
	if req.Enabled {
		b.reply(chatID, "Your request is enabled. Use /request to change it.")
		return
	}
	b.reply(chatID, "Your request is disabled. Use /enable to turn it on.")
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/start — start interacting
/request — show your request
/request <filters> — create or change your request
/enable — turn notifications on
/disable — turn notifications off
/matches — show what matched so far
/stop — stop notifications
/help — this message`)
}

func (b *Bot) handleRequest(ctx context.Context, chatID int64, args string) {
	existing, err := b.chatRequest(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if args == "" {
		if existing == nil {
			b.reply(chatID, "You have no request yet.\n\n"+requestHelp)
			return
		}
		b.reply(chatID, "Your current request:\n"+FormatRequest(existing)+"\n\n"+requestHelp)
		return
	}

	filters, err := ParseFilters(args)
	if err != nil {
		var perr *FilterParseError
		if errors.As(err, &perr) {
			b.reply(chatID, "I could not understand these parts:\n"+strings.Join(perr.Parts, "\n")+"\n\n"+requestHelp)
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	chatKey := strconv.FormatInt(chatID, 10)
	req := &model.TrackerRequest{
		ID:         uuid.NewString(),
		NotifiedAt: b.now().Add(-newRequestLookback),
	}
	if existing != nil {
		req.ID = existing.ID
		req.NotifiedAt = existing.NotifiedAt
		req.CreatedAt = existing.CreatedAt
	}
	req.Enabled = true
	req.Filter = filters
	req.Notifiers = []model.Notifier{{Kind: model.NotifierTelegram, Address: chatKey}}

	if err := b.store.UpsertRequest(ctx, req); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save request: %v", err))
		return
	}
	if existing == nil {
		if err := b.store.LinkChat(ctx, req.ID, chatKey); err != nil {
			b.reply(chatID, fmt.Sprintf("Failed to save request: %v", err))
			return
		}
	}

	b.log.Info("request saved", "request_id", req.ID, "chat_id", chatID, "new", existing == nil)
	b.sendWithToggle(chatID, "Your request is now:\n"+FormatRequest(req)+"\nWait for notifications!", req)
}

func (b *Bot) handleSetEnabled(ctx context.Context, chatID int64, enabled bool) {
	req, err := b.chatRequest(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	verb := statusEnabled
	if !enabled {
		verb = statusDisabled
	}
	if req == nil {
		b.reply(chatID, "You have no request yet. Create one with /request.")
		return
	}
	if req.Enabled == enabled {
		b.reply(chatID, "Your request is already "+verb+".")
		return
	}
	if err := b.store.SetRequestEnabled(ctx, req.ID, enabled); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Your request is now "+verb+".")
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	req, err := b.chatRequest(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if req == nil || !req.Enabled {
		b.reply(chatID, "Bye!")
		return
	}
	if err := b.store.SetRequestEnabled(ctx, req.ID, false); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Bye! Your request is disabled for now.")
}

func (b *Bot) handleMatches(ctx context.Context, chatID int64) {
	req, err := b.chatRequest(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if req == nil {
		b.reply(chatID, "You have no request yet. Create one with /request.")
		return
	}
	ids, err := b.store.ListMatchIDs(ctx, req.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatMatches(ids, latestMatches))
}

func (b *Bot) handleUser(ctx context.Context, chatID int64, args string) {
	lookup, err := ParseChatArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /user <chat_id>")
		return
	}
	req, err := b.store.GetRequestByChat(ctx, lookup)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("User %s has no request.", lookup))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Request %s of user %s:\n%s", req.ID, lookup, FormatRequest(req)))
}

// chatRequest returns the request linked to the chat, or nil when there is
// none.
func (b *Bot) chatRequest(ctx context.Context, chatID int64) (*model.TrackerRequest, error) {
	req, err := b.store.GetRequestByChat(ctx, strconv.FormatInt(chatID, 10))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}
