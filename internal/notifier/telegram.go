package notifier

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers operator messages.
type Notifier interface {
	Send(text string) error
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.SugaredLogger

	retryBase time.Duration
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, log *zap.SugaredLogger) (*TelegramNotifier, error) {
	return newTelegramNotifier(botToken, chatID, proxyURL, tgbotapi.APIEndpoint, log)
}

func newTelegramNotifier(botToken, chatID, proxyURL, endpoint string, log *zap.SugaredLogger) (*TelegramNotifier, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parse chat id %q", chatID)
	}

	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	// Long polling holds requests for up to 30s.
	client := &http.Client{Timeout: 45 * time.Second, Transport: transport}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram bot")
	}
	log.Infof("[notifier] telegram bot authorized as @%s", bot.Self.UserName)

	return &TelegramNotifier{bot: bot, chatID: id, log: log, retryBase: time.Second}, nil
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := t.Send(text); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * t.retryBase
			t.log.Warnf("[notifier] telegram send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return errors.Wrapf(lastErr, "all %d retries exhausted", maxRetries+1)
}

// NoopNotifier drops every message. Used when no bot token is configured.
type NoopNotifier struct{}

func (NoopNotifier) Send(string) error                                 { return nil }
func (NoopNotifier) SendWithRetry(context.Context, string, int) error { return nil }
