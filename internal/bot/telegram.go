package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"paygate-bot/config"
	"paygate-bot/pkg/logger"
)

const TransportTelegram = "telegram"

// TelegramClient talks to the Bot API. In private chats the chat id equals
// the user id, so users are addressed by their Telegram id.
type TelegramClient struct {
	bot    *tgbotapi.BotAPI
	logger *logger.Logger
}

func NewTelegramClient(cfg config.Telegram, m config.Messenger, l *logger.Logger) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: m.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	l.Infow("Authorized on Telegram", "username", bot.Self.UserName)

	return &TelegramClient{bot: bot, logger: l}, nil
}

func (t *TelegramClient) SendMessage(_ context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", userID, err)
	}
	return nil
}

// SetWebhook points Telegram at the callback endpoint so updates arrive over
// HTTP instead of polling.
func (t *TelegramClient) SetWebhook(callbackURL string) error {
	wh, err := tgbotapi.NewWebhook(callbackURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := t.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	t.logger.Infow("Telegram webhook set", "url", callbackURL)
	return nil
}

// ParseUpdate decodes a webhook request. ok is false for updates that carry
// no text message.
func (t *TelegramClient) ParseUpdate(r *http.Request) (Event, bool, error) {
	update, err := t.bot.HandleUpdate(r)
	if err != nil {
		return Event{}, false, err
	}
	ev, ok := EventFromUpdate(update)
	return ev, ok, nil
}

// EventFromUpdate maps a Telegram update onto a chat Event.
func EventFromUpdate(u *tgbotapi.Update) (Event, bool) {
	if u == nil || u.Message == nil || u.Message.From == nil {
		return Event{}, false
	}
	name := strings.TrimSpace(u.Message.From.FirstName + " " + u.Message.From.LastName)
	return Event{
		UserID:    u.Message.From.ID,
		Name:      name,
		Text:      u.Message.Text,
		Transport: TransportTelegram,
	}, true
}
