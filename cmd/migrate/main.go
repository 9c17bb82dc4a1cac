package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"realty_tracker/migrations"
)

var commands = []string{"up", "up-by-one", "up-to", "down", "down-to", "redo", "reset", "status", "version"}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] [-timeout d] <command> [version]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
	fmt.Fprintln(os.Stderr, "  up-by-one   Migrate one version up")
	fmt.Fprintln(os.Stderr, "  up-to V     Migrate up to version V")
	fmt.Fprintln(os.Stderr, "  down        Roll back one version")
	fmt.Fprintln(os.Stderr, "  down-to V   Roll back to version V")
	fmt.Fprintln(os.Stderr, "  redo        Roll back and re-apply the latest version")
	fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
	fmt.Fprintln(os.Stderr, "  status      Show migration status")
	fmt.Fprintln(os.Stderr, "  version     Show current version")
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error("load .env", "error", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/tracker.db"), "path to sqlite database")
	timeout := flag.Duration("timeout", time.Minute, "give up after this long")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 || !slices.Contains(commands, args[0]) {
		usage()
		os.Exit(1)
	}
	cmd := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, done := context.WithTimeout(ctx, *timeout)
	defer done()

	if err := run(ctx, *dbPath, cmd, args[1:]); err != nil {
		log.Error("migrate failed", "command", cmd, "db", *dbPath, "error", err)
		os.Exit(1)
	}
	log.Info("migrate done", "command", cmd, "db", *dbPath)
}

func run(ctx context.Context, dbPath, cmd string, args []string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, cmd, db, ".", args...); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
