package notifier

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(command string) string

// StartPolling begins long-polling for Telegram commands. Blocks until ctx is cancelled.
// Only messages from the configured chat are handled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.log.Info("[notifier] telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.dispatch(update, handler)
		}
	}
}

func (t *TelegramNotifier) dispatch(update tgbotapi.Update, handler CommandHandler) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	if update.Message.Chat == nil || update.Message.Chat.ID != t.chatID {
		t.log.Warnf("[notifier] ignoring message from unknown chat")
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if i := strings.IndexByte(text, '@'); i > 0 && strings.HasPrefix(text, "/") {
		text = text[:i] // "/status@SentinelBot"
	}
	t.log.Infof("[notifier] received command: %s", text)
	if reply := handler(text); reply != "" {
		if err := t.Send(reply); err != nil {
			t.log.Errorf("[notifier] send reply: %v", err)
		}
	}
}
