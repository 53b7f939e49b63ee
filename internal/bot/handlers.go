package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"frontpage/internal/model"
	"frontpage/internal/reader"
	"frontpage/internal/storage"
)

const (
	maxUploadBytes = 2 << 20
	exportFileName = "frontpage-subscriptions.opml"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Frontpage!

Follow RSS and Atom feeds and read them in one place.

Quick start:
1. /add <url> - subscribe to a feed
2. /latest - newest items across your feeds
3. /unread - what you haven't read yet

Send an OPML file to import subscriptions from another reader.
Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscriptions:
/add <url> - subscribe to a feed
/list - show subscriptions with unread counts
/remove <id> - unsubscribe
/read <id> - mark a subscription as read

Reading:
/latest - newest items across all feeds
/unread - unread counts per subscription
/search <query> - search titles, summaries and authors

Import and export:
/export - download your subscriptions as OPML
Upload an .opml file to import it.`)
}

// replyError reports caller mistakes verbatim and hides internal failures.
func (b *Bot) replyError(chatID int64, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrAlreadySubscribed):
		b.reply(chatID, "You are already subscribed to this feed.")
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, "Subscription not found.")
	case reader.IsUserError(err):
		b.reply(chatID, err.Error())
	default:
		b.log.Error(op, "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
	}
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /add <url>")
		return
	}

	sub, err := b.svc.Subscribe(ctx, UserID(chatID), args, nil)
	if err != nil {
		b.replyError(chatID, "subscribe", err)
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Subscribed!\n#%d %s\nURL: %s", sub.ID, sub.DisplayTitle(), sub.FeedURL))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Mark read", fmt.Sprintf("%s:%d", cmdRead, sub.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Remove", fmt.Sprintf("%s:%d", cbDeleteConfirm, sub.ID)),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send subscribe reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) unreadBySubscription(ctx context.Context, chatID int64) ([]model.Subscription, map[int64]int, bool) {
	user := UserID(chatID)
	subs, err := b.svc.ListSubscriptions(ctx, user)
	if err != nil {
		b.replyError(chatID, "list subscriptions", err)
		return nil, nil, false
	}
	counts, err := b.svc.UnreadCounts(ctx, user)
	if err != nil {
		b.replyError(chatID, "unread counts", err)
		return nil, nil, false
	}
	unread := lo.Associate(counts, func(c reader.UnreadCount) (int64, int) {
		return c.SubscriptionID, c.UnreadCount
	})
	return subs, unread, true
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	subs, unread, ok := b.unreadBySubscription(ctx, chatID)
	if !ok {
		return
	}
	b.reply(chatID, FormatSubscriptionList(subs, unread, b.now()))
}

func (b *Bot) handleUnread(ctx context.Context, chatID int64) {
	subs, unread, ok := b.unreadBySubscription(ctx, chatID)
	if !ok {
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "You have no subscriptions yet. Use /add <url> to add one.")
		return
	}
	b.reply(chatID, FormatUnread(subs, unread))
}

func (b *Bot) handleLatest(ctx context.Context, chatID int64) {
	res, err := b.svc.AllItems(ctx, UserID(chatID))
	if err != nil {
		b.replyError(chatID, "latest items", err)
		return
	}
	if len(res.Items) == 0 && len(res.Failed) == 0 {
		b.reply(chatID, "Nothing to show yet. Use /add <url> to subscribe to a feed.")
		return
	}

	text := FormatItems("Latest items:", res.Items, b.now())
	if len(res.Failed) > 0 {
		text += fmt.Sprintf("\n\nCould not fetch %d feed(s).", len(res.Failed))
	}
	b.reply(chatID, text)
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /search <query>")
		return
	}
	res, err := b.svc.Search(ctx, UserID(chatID), args)
	if err != nil {
		b.replyError(chatID, "search", err)
		return
	}
	if res.Count == 0 {
		b.reply(chatID, fmt.Sprintf("No results for %q.", res.Query))
		return
	}
	b.reply(chatID, FormatItems(fmt.Sprintf("%d result(s) for %q:", res.Count, res.Query), res.Items, b.now()))
}

func (b *Bot) handleRead(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /read <id>")
		return
	}
	if err := b.svc.MarkSubscriptionRead(ctx, UserID(chatID), id); err != nil {
		b.replyError(chatID, "mark read", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscription #%d marked as read.", id))
}

func (b *Bot) findSubscription(ctx context.Context, chatID, id int64) (*model.Subscription, bool) {
	subs, err := b.svc.ListSubscriptions(ctx, UserID(chatID))
	if err != nil {
		b.replyError(chatID, "list subscriptions", err)
		return nil, false
	}
	sub, found := lo.Find(subs, func(s model.Subscription) bool { return s.ID == id })
	if !found {
		b.reply(chatID, fmt.Sprintf("Subscription #%d not found.", id))
		return nil, false
	}
	return &sub, true
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>")
		return
	}

	sub, ok := b.findSubscription(ctx, chatID, id)
	if !ok {
		return
	}
	if err := b.svc.Unsubscribe(ctx, UserID(chatID), id); err != nil {
		b.replyError(chatID, "unsubscribe", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Unsubscribed from #%d \"%s\".", id, sub.DisplayTitle()))
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	user := UserID(chatID)
	subs, err := b.svc.ListSubscriptions(ctx, user)
	if err != nil {
		b.replyError(chatID, "list subscriptions", err)
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "You have no subscriptions to export.")
		return
	}

	doc, err := b.svc.ExportOPML(ctx, user)
	if err != nil {
		b.replyError(chatID, "export opml", err)
		return
	}
	file := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: exportFileName, Bytes: []byte(doc)})
	file.Caption = fmt.Sprintf("%d subscription(s)", len(subs))
	if _, err := b.api.Send(file); err != nil {
		b.log.Error("send opml export", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to send the export file.")
	}
}

func (b *Bot) handleDocument(ctx context.Context, chatID int64, doc *tgbotapi.Document) {
	if !IsOPMLFile(doc.FileName) {
		b.reply(chatID, "Send an OPML file (.opml or .xml) to import subscriptions.")
		return
	}
	if doc.FileSize > maxUploadBytes {
		b.reply(chatID, "The file is too large to import.")
		return
	}

	src, err := b.download(ctx, doc.FileID)
	if err != nil {
		b.log.Error("download document", "chat_id", chatID, "file", doc.FileName, "error", err)
		b.reply(chatID, "Failed to download the file, please try again.")
		return
	}

	res, err := b.svc.ImportOPML(ctx, UserID(chatID), src)
	if err != nil {
		b.replyError(chatID, "import opml", err)
		return
	}
	b.reply(chatID, FormatImportResult(res))
}

func (b *Bot) download(ctx context.Context, fileID string) (string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := b.files.Do(req)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}
