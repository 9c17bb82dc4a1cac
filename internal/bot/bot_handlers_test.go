package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"realty_tracker/internal/config"
	"realty_tracker/internal/model"
	"realty_tracker/internal/notify"
	"realty_tracker/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID  int64
	Text    string
	Buttons []string
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, nil
	}
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	s := sentMsg{ChatID: msg.ChatID, Text: msg.Text}
	if kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil {
					s.Buttons = append(s.Buttons, *btn.CallbackData)
				}
			}
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// --- helpers ---

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	b := &Bot{
		api:   api,
		store: store,
		cfg:   &config.Config{AdminUsers: []int64{1}},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:   func() time.Time { return testNow },
	}
	return b, api, store
}

func seedRequest(t *testing.T, store *storage.SQLite, id, chat string, enabled bool) *model.TrackerRequest {
	t.Helper()
	ctx := context.Background()
	r := &model.TrackerRequest{
		ID:         id,
		Enabled:    enabled,
		Filter:     model.FilterSet{Area: &model.Range{Min: ptr(80.0)}},
		NotifiedAt: testNow.Add(-time.Hour),
		Notifiers:  []model.Notifier{{Kind: model.NotifierTelegram, Address: chat}},
	}
	if err := store.UpsertRequest(ctx, r); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	if err := store.LinkChat(ctx, id, chat); err != nil {
		t.Fatalf("link chat: %v", err)
	}
	return r
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func enabled(t *testing.T, store *storage.SQLite, id string) bool {
	t.Helper()
	r, err := store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	return r.Enabled
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	ctx := context.Background()

	t.Run("no request", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleStart(ctx, 100)
		requireContains(t, api.lastText(), "Welcome to Realty Tracker")
		requireContains(t, api.lastText(), "/request")
	})

	t.Run("enabled request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleStart(ctx, 100)
		requireContains(t, api.lastText(), "is enabled")
	})

	t.Run("disabled request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", false)
		b.handleStart(ctx, 100)
		requireContains(t, api.lastText(), "/enable")
	})
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/request")
	requireContains(t, api.lastText(), "/matches")
}

func TestHandleRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("show without request", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRequest(ctx, 100, "")
		requireContains(t, api.lastText(), "no request yet")
		requireContains(t, api.lastText(), "price-per-meter")
	})

	t.Run("show existing", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleRequest(ctx, 100, "")
		requireContains(t, api.lastText(), "from 80 m2 [enabled]")
	})

	t.Run("parse error lists parts", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRequest(ctx, 100, "area min:10; garden min:5; rooms")
		reply := api.lastText()
		requireContains(t, reply, "garden min:5")
		requireContains(t, reply, "\nrooms")
	})

	t.Run("creates request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.handleRequest(ctx, 100, "price-total min:200 max:300; bedrooms min:2")

		got, err := store.GetRequestByChat(ctx, "100")
		if err != nil {
			t.Fatalf("get by chat: %v", err)
		}
		want := &model.TrackerRequest{
			ID:      got.ID,
			Enabled: true,
			Filter: model.FilterSet{
				Price: &model.PriceFilter{Basis: model.PriceTotal, Range: model.Range{Min: ptr(200.0), Max: ptr(300.0)}},
				Rooms: &model.RoomsFilter{Basis: model.RoomsBedrooms, Range: model.Range{Min: ptr(2.0)}},
			},
			NotifiedAt: testNow.Add(-10 * time.Minute),
			Notifiers:  []model.Notifier{{Kind: model.NotifierTelegram, Address: "100"}},
			CreatedAt:  got.CreatedAt,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("request mismatch (-want +got):\n%s", diff)
		}
		if got.ID == "" {
			t.Error("request id is empty")
		}

		requireContains(t, api.lastText(), "from 200 to 300$ total; from 2 bedrooms")
		if diff := cmp.Diff([]string{"disable:" + got.ID}, api.last().Buttons); diff != "" {
			t.Errorf("buttons mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("replaces filters and keeps watermark", func(t *testing.T) {
		b, _, store := newTestBot(t)
		old := seedRequest(t, store, "r1", "100", false)
		b.handleRequest(ctx, 100, "rooms max:4")

		got, err := store.GetRequestByChat(ctx, "100")
		if err != nil {
			t.Fatalf("get by chat: %v", err)
		}
		if diff := cmp.Diff("r1", got.ID); diff != "" {
			t.Errorf("request id mismatch (-want +got):\n%s", diff)
		}
		if !got.NotifiedAt.Equal(old.NotifiedAt) {
			t.Errorf("watermark = %v, want %v", got.NotifiedAt, old.NotifiedAt)
		}
		if !got.Enabled {
			t.Error("request not re-enabled")
		}
		want := model.FilterSet{Rooms: &model.RoomsFilter{Basis: model.RoomsTotal, Range: model.Range{Max: ptr(4.0)}}}
		if diff := cmp.Diff(want, got.Filter); diff != "" {
			t.Errorf("filter mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestHandleSetEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("no request", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleSetEnabled(ctx, 100, true)
		requireContains(t, api.lastText(), "no request yet")
	})

	t.Run("already enabled", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleSetEnabled(ctx, 100, true)
		requireContains(t, api.lastText(), "already enabled")
	})

	t.Run("disable then enable", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)

		b.handleSetEnabled(ctx, 100, false)
		requireContains(t, api.lastText(), "now disabled")
		if enabled(t, store, "r1") {
			t.Error("request still enabled")
		}

		b.handleSetEnabled(ctx, 100, true)
		requireContains(t, api.lastText(), "now enabled")
		if !enabled(t, store, "r1") {
			t.Error("request still disabled")
		}
	})
}

func TestHandleStop(t *testing.T) {
	ctx := context.Background()

	t.Run("no request", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleStop(ctx, 100)
		if diff := cmp.Diff("Bye!", api.lastText()); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("disables request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleStop(ctx, 100)
		requireContains(t, api.lastText(), "disabled for now")
		if enabled(t, store, "r1") {
			t.Error("request still enabled")
		}
	})
}

func TestHandleMatches(t *testing.T) {
	ctx := context.Background()

	t.Run("no request", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleMatches(ctx, 100)
		requireContains(t, api.lastText(), "no request yet")
	})

	t.Run("lists latest", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		if err := store.AppendMatchIDs(ctx, "r1", []string{"a:1", "a:2"}); err != nil {
			t.Fatalf("append: %v", err)
		}
		b.handleMatches(ctx, 100)
		requireContains(t, api.lastText(), "2 listing(s)")
		requireContains(t, api.lastText(), "a:2")
	})
}

func TestHandleUser(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUser(ctx, 1, "abc")
		requireContains(t, api.lastText(), "Usage: /user")
	})

	t.Run("unknown user", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUser(ctx, 1, "555")
		requireContains(t, api.lastText(), "User 555 has no request")
	})

	t.Run("shows request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r9", "555", true)
		b.handleUser(ctx, 1, "555")
		requireContains(t, api.lastText(), "Request r9 of user 555")
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(from int64, cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			From: &tgbotapi.User{ID: from},
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	t.Run("dispatches known commands", func(t *testing.T) {
		b, api, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			args     string
			contains string
		}{
			{"start", "", "Welcome"},
			{"help", "", "/request"},
			{"request", "area min:50", "Your request is now"},
			{"disable", "", "now disabled"},
			{"enable", "", "now enabled"},
			{"matches", "", "No matches yet"},
			{"stop", "", "Bye!"},
			{"unknown_cmd", "", "Unknown command"},
		}

		for _, tc := range cmds {
			api.reset()
			b.handleCommand(ctx, makeMsg(100, tc.cmd, tc.args))
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("user requires admin", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCommand(ctx, makeMsg(100, "user", "555"))
		requireContains(t, api.lastText(), "Access denied")

		b.handleCommand(ctx, makeMsg(1, "user", "555"))
		requireContains(t, api.lastText(), "has no request")
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	makeCB := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: 100},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, makeCB("nocolon"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("stale request", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleCallback(ctx, makeCB("disable:other"))
		requireContains(t, api.lastText(), "no longer exists")
		if !enabled(t, store, "r1") {
			t.Error("stale button changed the request")
		}
	})

	t.Run("disable callback", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", true)
		b.handleCallback(ctx, makeCB("disable:r1"))
		requireContains(t, api.lastText(), "now disabled")
		if enabled(t, store, "r1") {
			t.Error("request still enabled")
		}
	})

	t.Run("enable callback", func(t *testing.T) {
		b, api, store := newTestBot(t)
		seedRequest(t, store, "r1", "100", false)
		b.handleCallback(ctx, makeCB("enable:r1"))
		requireContains(t, api.lastText(), "now enabled")
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to chat", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		err := b.Send(ctx, model.Notifier{Kind: model.NotifierTelegram, Address: "42"}, "hello")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if diff := cmp.Diff(sentMsg{ChatID: 42, Text: "hello"}, api.last()); diff != "" {
			t.Errorf("sent mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		b, _, _ := newTestBot(t)
		if err := b.Send(ctx, model.Notifier{Kind: model.NotifierTelegram, Address: "abc"}, "x"); err == nil {
			t.Error("expected an error for a non-numeric chat id")
		}
	})

	t.Run("unsupported kind", func(t *testing.T) {
		b, _, _ := newTestBot(t)
		if err := b.Send(ctx, model.Notifier{Kind: "email", Address: "1"}, "x"); err == nil {
			t.Error("expected an error for an unsupported notifier")
		}
	})

	t.Run("blocked recipient", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		api.err = errors.New("Forbidden: bot was blocked by the user")
		err := b.Send(ctx, model.Notifier{Kind: model.NotifierTelegram, Address: "42"}, "x")
		if !notify.IsBlocked(err) {
			t.Errorf("IsBlocked(%v) = false, want true", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := b.Send(cctx, model.Notifier{Kind: model.NotifierTelegram, Address: "42"}, "x"); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if len(api.allTexts()) != 0 {
			t.Error("message sent on a cancelled context")
		}
	})
}
