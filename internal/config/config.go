// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	LogColor         bool
	AllowedUsers     []int64
	AdminUsers       []int64
	HTTPAddr         string

	CrawlSchedule   string
	MatchSchedule   string
	CleanupSchedule string

	// Sources limits the enabled adapters. Empty means all.
	Sources  []string
	FeedURLs []string
	GeoPath  string

	PageDelay    time.Duration
	PageTimeout  time.Duration
	ItemDelay    time.Duration
	BatchTimeout time.Duration
	MaxPages     int
	// MaxPageFailures ends a page loop after this many consecutive failed
	// pages. Zero keeps paging.
	MaxPageFailures int

	NotifyInterval time.Duration
	Retention      time.Duration
	// NoDBUpdate marks a read-only instance that refuses crawl triggers.
	NoDBUpdate bool
}

// Load reads configuration from environment variables. Values from a .env
// file in the working directory are loaded first when the file exists;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOr("DATABASE_PATH", "./data/tracker.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		CrawlSchedule:    envOr("CRAWL_SCHEDULE", "*/15 * * * *"),
		MatchSchedule:    envOr("MATCH_SCHEDULE", "*/5 * * * *"),
		CleanupSchedule:  envOr("CLEANUP_SCHEDULE", "0 4 * * *"),
		Sources:          splitList(os.Getenv("SOURCES")),
		FeedURLs:         splitList(os.Getenv("FEED_URLS")),
		GeoPath:          os.Getenv("GEO_DATA_PATH"),
	}

	var err error
	if cfg.AllowedUsers, err = parseUsers("ALLOWED_USERS"); err != nil {
		return nil, err
	}
	if cfg.AdminUsers, err = parseUsers("ADMIN_USERS"); err != nil {
		return nil, err
	}
	if cfg.LogColor, err = parseBool("LOG_COLOR"); err != nil {
		return nil, err
	}
	if cfg.NoDBUpdate, err = parseBool("NO_DB_UPDATE"); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = parseInt("MAX_PAGES"); err != nil {
		return nil, err
	}
	if cfg.MaxPageFailures, err = parseInt("MAX_PAGE_FAILURES"); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"PAGE_DELAY", 250 * time.Millisecond, &cfg.PageDelay},
		{"PAGE_TIMEOUT", 5 * time.Second, &cfg.PageTimeout},
		{"ITEM_DELAY", 250 * time.Millisecond, &cfg.ItemDelay},
		{"BATCH_TIMEOUT", 10 * time.Minute, &cfg.BatchTimeout},
		{"NOTIFY_INTERVAL", time.Second, &cfg.NotifyInterval},
		{"RETENTION", 30 * 24 * time.Hour, &cfg.Retention},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

// IsAdmin reports whether the user may run administrative commands.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.AdminUsers, userID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseUsers(key string) ([]int64, error) {
	var users []int64
	for _, s := range splitList(os.Getenv(key)) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in %s: %w", s, key, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

func parseBool(key string) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", key, raw)
	}
	return v, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative duration", key, raw)
	}
	return d, nil
}
