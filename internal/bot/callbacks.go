package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdRead         = "read"
	cbDelete        = "delete"
	cbDeleteConfirm = "delete_confirm"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, idStr, ok := strings.Cut(data, ":")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback", "action", action, "id", id, "chat_id", chatID)

	switch action {
	case cmdRead:
		b.handleRead(ctx, chatID, idStr)
	case cbDeleteConfirm:
		sub, found := b.findSubscription(ctx, chatID, id)
		if !found {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Unsubscribe from #%d \"%s\"?", id, sub.DisplayTitle()))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", fmt.Sprintf("%s:%d", cbDelete, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send delete confirmation", "error", err)
		}
	case cbDelete:
		b.handleRemove(ctx, chatID, idStr)
	}
}
