package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeliveryError wraps a failed notification send.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "delivery: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// TelegramOptions configures the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatID   int64
	Proxy    string
	// Endpoint overrides tgbotapi.APIEndpoint; it must contain two %s verbs
	// for the token and the method.
	Endpoint string
	Timeout  time.Duration
	// ConnectTimeout bounds the retried getMe check during construction.
	ConnectTimeout time.Duration
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API, retrying the initial getMe
// check with exponential backoff. Authorization failures are not retried.
func NewTelegramNotifier(ctx context.Context, opts TelegramOptions) (*TelegramNotifier, error) {
	transport := &http.Transport{}
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = time.Minute
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: opts.Timeout, Transport: transport}
	logger := log.With().Str("component", "telegram").Logger()

	var bot *tgbotapi.BotAPI
	connect := func() error {
		b, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, opts.Endpoint, client)
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound) {
				return backoff.Permanent(err)
			}
			logger.Warn().Err(err).Msg("telegram connect failed, retrying")
			return err
		}
		bot = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = opts.ConnectTimeout
	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}

	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram bot connected")
	return &TelegramNotifier{Bot: bot, ChatID: opts.ChatID, logger: logger}, nil
}

// Username returns the bot's handle.
func (t *TelegramNotifier) Username() string {
	return t.Bot.Self.UserName
}

// Send delivers text to the configured chat. It is best-effort and never retries.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	return t.sendTo(ctx, t.ChatID, text)
}

func (t *TelegramNotifier) sendTo(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.Bot.Send(msg); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}
