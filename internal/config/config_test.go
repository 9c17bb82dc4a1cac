package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "LOG_COLOR", "ALLOWED_USERS", "ADMIN_USERS",
	"HTTP_ADDR", "CRAWL_SCHEDULE", "MATCH_SCHEDULE", "CLEANUP_SCHEDULE", "SOURCES", "FEED_URLS",
	"GEO_DATA_PATH", "PAGE_DELAY", "PAGE_TIMEOUT", "ITEM_DELAY", "BATCH_TIMEOUT", "MAX_PAGES",
	"MAX_PAGE_FAILURES", "NOTIFY_INTERVAL", "RETENTION", "NO_DB_UPDATE",
}

func defaults(token string) *Config {
	return &Config{
		TelegramBotToken: token,
		DatabasePath:     "./data/tracker.db",
		LogLevel:         "info",
		HTTPAddr:         ":8080",
		CrawlSchedule:    "*/15 * * * *",
		MatchSchedule:    "*/5 * * * *",
		CleanupSchedule:  "0 4 * * *",
		PageDelay:        250 * time.Millisecond,
		PageTimeout:      5 * time.Second,
		ItemDelay:        250 * time.Millisecond,
		BatchTimeout:     10 * time.Minute,
		NotifyInterval:   time.Second,
		Retention:        720 * time.Hour,
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: func() *Config { return defaults("test-token") },
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"DATABASE_PATH":      "/tmp/tracker.db",
				"LOG_LEVEL":          "debug",
				"LOG_COLOR":          "true",
				"ALLOWED_USERS":      "111,222,333",
				"ADMIN_USERS":        "111",
				"HTTP_ADDR":          "127.0.0.1:9000",
				"CRAWL_SCHEDULE":     "@hourly",
				"MATCH_SCHEDULE":     "*/1 * * * *",
				"CLEANUP_SCHEDULE":   "@daily",
				"SOURCES":            "ss.ge, myhome.ge",
				"FEED_URLS":          "https://example.com/a.xml",
				"GEO_DATA_PATH":      "/etc/tracker/geo.yaml",
				"PAGE_DELAY":         "1s",
				"PAGE_TIMEOUT":       "10s",
				"ITEM_DELAY":         "0s",
				"BATCH_TIMEOUT":      "1m",
				"MAX_PAGES":          "3",
				"MAX_PAGE_FAILURES":  "5",
				"NOTIFY_INTERVAL":    "2s",
				"RETENTION":          "48h",
				"NO_DB_UPDATE":       "1",
			},
			want: func() *Config {
				return &Config{
					TelegramBotToken: "tok",
					DatabasePath:     "/tmp/tracker.db",
					LogLevel:         "debug",
					LogColor:         true,
					AllowedUsers:     []int64{111, 222, 333},
					AdminUsers:       []int64{111},
					HTTPAddr:         "127.0.0.1:9000",
					CrawlSchedule:    "@hourly",
					MatchSchedule:    "*/1 * * * *",
					CleanupSchedule:  "@daily",
					Sources:          []string{"ss.ge", "myhome.ge"},
					FeedURLs:         []string{"https://example.com/a.xml"},
					GeoPath:          "/etc/tracker/geo.yaml",
					PageDelay:        time.Second,
					PageTimeout:      10 * time.Second,
					ItemDelay:        0,
					BatchTimeout:     time.Minute,
					MaxPages:         3,
					MaxPageFailures:  5,
					NotifyInterval:   2 * time.Second,
					Retention:        48 * time.Hour,
					NoDBUpdate:       true,
				}
			},
		},
		{
			name: "allowed users with spaces",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: func() *Config {
				c := defaults("tok")
				c.AllowedUsers = []int64{10, 20}
				return c
			},
		},
		{
			name: "invalid user id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      "123,abc",
			},
			wantErr: true,
		},
		{
			name: "invalid admin id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ADMIN_USERS":        "x",
			},
			wantErr: true,
		},
		{
			name: "invalid duration",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"PAGE_TIMEOUT":       "soon",
			},
			wantErr: true,
		},
		{
			name: "negative max pages",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"MAX_PAGES":          "-1",
			},
			wantErr: true,
		},
		{
			name: "invalid bool",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"NO_DB_UPDATE":       "maybe",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{AdminUsers: []int64{7}}
	if !cfg.IsAdmin(7) {
		t.Error("IsAdmin(7) = false, want true")
	}
	if cfg.IsAdmin(8) {
		t.Error("IsAdmin(8) = true, want false")
	}
	if (&Config{}).IsAdmin(7) {
		t.Error("empty admin list grants admin")
	}
}
