package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"paygate-bot/internal/db"
	"paygate-bot/internal/payment"
	"paygate-bot/pkg/logger"
)

// Messenger delivers a text message to a chat user.
type Messenger interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// Store is the part of db.Store the chat handlers touch.
type Store interface {
	UpsertAccount(ctx context.Context, userID int64, name, contact *string) error
	IsPaid(ctx context.Context, userID int64) (bool, error)
	GetToken(ctx context.Context, userID int64) (string, error)
	RecordAttempt(ctx context.Context, userID int64, paymentID string, amount decimal.Decimal, currency string) error
}

type Price struct {
	Amount   decimal.Decimal
	Currency string
}

type Handlers struct {
	store     Store
	creator   payment.Creator
	messenger Messenger
	price     Price
	link      func(token string) string
	logger    *logger.Logger
}

func NewHandlers(store Store, creator payment.Creator, messenger Messenger, price Price, link func(string) string, l *logger.Logger) *Handlers {
	return &Handlers{
		store:     store,
		creator:   creator,
		messenger: messenger,
		price:     price,
		link:      link,
		logger:    l,
	}
}

// All returns the handlers in dispatch order.
func (h *Handlers) All() []Handler {
	return []Handler{
		HandlerFunc("greeting", h.Greeting),
		HandlerFunc("buy", h.Buy),
		HandlerFunc("contact", h.Contact),
		HandlerFunc("status", h.Status),
		HandlerFunc("access", h.Access),
	}
}

func isGreeting(text string) bool {
	switch text {
	case "привет", "начать", "/start", "start":
		return true
	}
	return false
}

func isBuy(text string) bool {
	return text == "купить" || text == "buy"
}

func isStatus(text string) bool {
	return text == "статус" || text == "status"
}

func isAccess(text string) bool {
	return text == "доступ" || text == "access"
}

func looksLikeContact(text string) bool {
	return strings.Contains(text, "@") && strings.Contains(text, ".")
}

func (h *Handlers) Greeting(ctx context.Context, ev Event) error {
	if !isGreeting(ev.Normalized()) {
		return nil
	}
	if err := h.store.UpsertAccount(ctx, ev.UserID, optional(ev.Name), nil); err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot save user: %w", err))
	}
	h.logger.Infow("Welcome message sent", "user_id", ev.UserID)
	return h.reply(ctx, ev, msgWelcome)
}

func (h *Handlers) Buy(ctx context.Context, ev Event) error {
	if !isBuy(ev.Normalized()) {
		return nil
	}
	if err := h.store.UpsertAccount(ctx, ev.UserID, optional(ev.Name), nil); err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot save user: %w", err))
	}
	h.logger.Infow("Purchase request", "user_id", ev.UserID)
	return h.reply(ctx, ev, msgAskContact)
}

// Contact stores an e-mail-looking reply and opens a payment for it.
func (h *Handlers) Contact(ctx context.Context, ev Event) error {
	contact := strings.TrimSpace(ev.Text)
	if !looksLikeContact(contact) {
		return nil
	}
	if err := h.store.UpsertAccount(ctx, ev.UserID, optional(ev.Name), &contact); err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot save contact: %w", err))
	}

	checkout, err := h.creator.CreatePayment(ctx, ev.UserID, h.price.Amount, h.price.Currency)
	if err != nil {
		return NewHumanError(msgPaymentDown, fmt.Errorf("cannot create payment: %w", err))
	}
	if err := h.store.RecordAttempt(ctx, ev.UserID, checkout.PaymentID, h.price.Amount, h.price.Currency); err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot record payment %s: %w", checkout.PaymentID, err))
	}

	h.logger.Infow("Payment created", "user_id", ev.UserID, "payment_id", checkout.PaymentID)
	return h.reply(ctx, ev, fmt.Sprintf(msgPaymentLink, checkout.URL))
}

func (h *Handlers) Status(ctx context.Context, ev Event) error {
	if !isStatus(ev.Normalized()) {
		return nil
	}
	paid, err := h.store.IsPaid(ctx, ev.UserID)
	if err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot check payment: %w", err))
	}
	if paid {
		return h.reply(ctx, ev, msgAlreadyPaid)
	}
	return h.reply(ctx, ev, msgNotPaid)
}

func (h *Handlers) Access(ctx context.Context, ev Event) error {
	if !isAccess(ev.Normalized()) {
		return nil
	}
	paid, err := h.store.IsPaid(ctx, ev.UserID)
	if err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot check payment: %w", err))
	}
	if !paid {
		h.logger.Infow("Access requested without payment", "user_id", ev.UserID)
		return h.reply(ctx, ev, msgNoAccess)
	}

	token, err := h.store.GetToken(ctx, ev.UserID)
	if errors.Is(err, db.ErrNotFound) {
		h.logger.Warnw("No token found for paid user", "user_id", ev.UserID)
		return h.reply(ctx, ev, msgNoToken)
	}
	if err != nil {
		return NewHumanError(msgStoreDown, fmt.Errorf("cannot load token: %w", err))
	}

	h.logger.Infow("Access link sent", "user_id", ev.UserID)
	return h.reply(ctx, ev, fmt.Sprintf(msgAccessLink, h.link(token)))
}

func (h *Handlers) reply(ctx context.Context, ev Event, text string) error {
	if err := h.messenger.SendMessage(ctx, ev.UserID, text); err != nil {
		return fmt.Errorf("cannot send message to %d: %w", ev.UserID, err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
