package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"realty_tracker/internal/api"
	"realty_tracker/internal/bot"
	"realty_tracker/internal/config"
	"realty_tracker/internal/geo"
	"realty_tracker/internal/matching"
	"realty_tracker/internal/notify"
	"realty_tracker/internal/scheduler"
	"realty_tracker/internal/scraper"
	"realty_tracker/internal/source"
	"realty_tracker/internal/source/feed"
	"realty_tracker/internal/source/myhome"
	"realty_tracker/internal/source/ssge"
	"realty_tracker/internal/storage"
	"realty_tracker/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogColor)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	area, err := geo.Load(cfg.GeoPath)
	if err != nil {
		log.Error("load geo data", "path", cfg.GeoPath, "error", err)
		os.Exit(1)
	}

	registry := source.NewRegistry(adapters(cfg)...)
	if len(registry.All()) == 0 {
		log.Error("no sources enabled", "sources", cfg.Sources)
		os.Exit(1)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	stop := scraper.NewStopper()
	orch := scraper.NewOrchestrator(store, area, stop, scraper.Options{
		PageDelay:       cfg.PageDelay,
		PageTimeout:     cfg.PageTimeout,
		ItemDelay:       cfg.ItemDelay,
		BatchTimeout:    cfg.BatchTimeout,
		MaxPages:        cfg.MaxPages,
		MaxPageFailures: cfg.MaxPageFailures,
	}, log)
	crawler := scraper.NewCrawler(registry, store, orch, log)

	dispatcher := notify.NewDispatcher(b, store, notify.DispatcherOptions{
		Interval:    cfg.NotifyInterval,
		SendTimeout: 30 * time.Second,
		MaxLength:   bot.MaxMessageLength,
	}, log)
	cycle := matching.New(store, store, dispatcher, registry, log)

	svc := tracker.New(crawler, cycle, store, stop, tracker.Options{
		Retention: cfg.Retention,
		ReadOnly:  cfg.NoDBUpdate,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(log)
	schedules := scheduler.Schedules{
		Crawl:   cfg.CrawlSchedule,
		Match:   cfg.MatchSchedule,
		Cleanup: cfg.CleanupSchedule,
	}
	if cfg.NoDBUpdate {
		schedules.Crawl = ""
	}
	if err := scheduler.Register(ctx, sched, svc, schedules); err != nil {
		log.Error("register jobs", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.HTTPAddr, svc, log)

	log.Info("starting tracker",
		"sources", len(registry.All()),
		"read_only", cfg.NoDBUpdate,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("tracker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("tracker stopped")
}

func adapters(cfg *config.Config) []source.Adapter {
	client := &http.Client{Timeout: 30 * time.Second}
	all := []source.Adapter{
		ssge.New(client),
		myhome.New(client),
	}
	if len(cfg.FeedURLs) > 0 {
		all = append(all, feed.New(client, cfg.FeedURLs))
	}
	if len(cfg.Sources) == 0 {
		return all
	}
	var out []source.Adapter
	for _, a := range all {
		if slices.Contains(cfg.Sources, a.ID()) {
			out = append(out, a)
		}
	}
	return out
}

func newLogger(level string, color bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if color {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.DateTime,
		}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
