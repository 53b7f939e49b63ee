// Package bot is the Telegram command surface over the reader service.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"frontpage/internal/aggregator"
	"frontpage/internal/config"
	"frontpage/internal/model"
	"frontpage/internal/reader"
	"frontpage/internal/search"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetFileDirectURL(fileID string) (string, error)
	StopReceivingUpdates()
}

// HTTPClient downloads uploaded documents.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service is the set of reader operations the bot exposes.
type Service interface {
	Subscribe(ctx context.Context, userID, url string, categoryID *int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	UnreadCounts(ctx context.Context, userID string) ([]reader.UnreadCount, error)
	AllItems(ctx context.Context, userID string) (aggregator.Result, error)
	Search(ctx context.Context, userID, q string) (search.Result, error)
	MarkSubscriptionRead(ctx context.Context, userID string, id int64) error
	Unsubscribe(ctx context.Context, userID string, id int64) error
	ImportOPML(ctx context.Context, userID, src string) (reader.ImportResult, error)
	ExportOPML(ctx context.Context, userID string) (string, error)
}

// Bot is the Telegram bot that handles user commands and OPML uploads.
type Bot struct {
	api   telegramAPI
	svc   Service
	cfg   *config.Config
	files HTTPClient
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Bot with the given Telegram token, service, and config.
func New(token string, svc Service, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		svc:   svc,
		cfg:   cfg,
		files: &http.Client{Timeout: 30 * time.Second},
		log:   log,
		now:   time.Now,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		if cb.From == nil || cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || (!msg.IsCommand() && msg.Document == nil) {
		return
	}
	if msg.From == nil || !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	if msg.Document != nil {
		b.handleDocument(ctx, msg.Chat.ID, msg.Document)
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
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
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "latest":
		b.handleLatest(ctx, chatID)
	case "unread":
		b.handleUnread(ctx, chatID)
	case "search":
		b.handleSearch(ctx, chatID, args)
	case cmdRead:
		b.handleRead(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case "export":
		b.handleExport(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
