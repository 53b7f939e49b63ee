package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app().RunContext(ctx, os.Args); err != nil {
		slog.Error("frontpage", "error", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:  "frontpage",
		Usage: "A feed reader with an HTTP API and a Telegram bot",
		Description: `Frontpage fetches RSS and Atom feeds, merges them into one timeline,
tracks what each user has read, and imports or exports subscriptions as OPML.

Runtime settings are read from environment variables, e.g.:

LISTEN_ADDR=:8080 DATABASE_PATH=./data/frontpage.db API_TOKENS=token:alice`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			fetchCmd(),
			opmlCmd(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
