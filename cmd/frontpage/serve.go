package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"frontpage/internal/api"
	"frontpage/internal/bot"
	"frontpage/internal/config"
	"frontpage/internal/fetcher"
	"frontpage/internal/reader"
	"frontpage/internal/scheduler"
	"frontpage/internal/storage"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the metadata refresher and, if configured, the Telegram bot",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(c.Context, cfg)
		},
	}
}

var newBot = bot.New

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	f := fetcher.New(&http.Client{}, fetcher.Config{
		Timeout:          cfg.FetchTimeout,
		ImageTimeout:     cfg.ImageTimeout,
		ScrapeImages:     cfg.ScrapeImages,
		ImageConcurrency: cfg.ImageConcurrency,
	}, log)
	svc := reader.New(store, f, cfg.GuestFeedURLs(), log)

	if len(cfg.APITokens) == 0 {
		log.Warn("no API_TOKENS configured, the API only serves guest endpoints")
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(svc, api.StaticTokens(cfg.APITokens), log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := scheduler.New(store, f, log)
	sched.SetTickInterval(cfg.RefreshInterval)

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		if b, err = newBot(cfg.TelegramBotToken, svc, cfg, log); err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	if b != nil {
		g.Go(func() error {
			log.Info("starting telegram bot")
			b.Run(ctx)
			return nil
		})
	}

	err = g.Wait()
	log.Info("frontpage stopped")
	return err
}
