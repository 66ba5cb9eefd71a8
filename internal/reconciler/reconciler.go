// Package reconciler applies processor-reported payment statuses to the
// ledger and the account store and tells the user what happened.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"paygate-bot/internal/access"
	"paygate-bot/internal/db"
	"paygate-bot/internal/metrics"
	"paygate-bot/internal/models"
	"paygate-bot/pkg/logger"
)

var ErrMalformedEvent = errors.New("malformed payment event")

const (
	msgPaymentConfirmed = "✅ Оплата подтверждена! 🎉 Доступ к материалам открыт."
	msgAccessLink       = "📚 Ваша личная ссылка для доступа:\n%s"
	msgPaymentCanceled  = "❌ Платёж отменён. Если это ошибка, напишите 'купить', чтобы оплатить снова."
	msgPaymentFailed    = "⚠️ Платёж не прошёл. Попробуйте ещё раз: напишите 'купить' и повторите оплату."
)

// Event is one processor notification about a payment.
type Event struct {
	Type      string
	PaymentID string
	Status    models.PaymentStatus
	// UserID comes from the payment metadata; zero when absent.
	UserID int64
}

type Outcome string

const (
	OutcomeGranted        Outcome = "granted"
	OutcomeReplayed       Outcome = "replayed"
	OutcomeUnknownPayment Outcome = "unknown_payment"
	OutcomeRevoked        Outcome = "revoked"
	OutcomeClosed         Outcome = "closed"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeFailed         Outcome = "failed"
	OutcomeIgnored        Outcome = "ignored"
)

type Issuer interface {
	MarkPaidAndIssueToken(ctx context.Context, paymentID string) (*models.Grant, error)
}

type Ledger interface {
	LookupUser(ctx context.Context, paymentID string) (int64, error)
	SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (bool, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// LinkFunc renders the access link for a token.
type LinkFunc func(token string) string

type Reconciler struct {
	issuer   Issuer
	ledger   Ledger
	notifier Notifier
	link     LinkFunc
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func New(issuer Issuer, ledger Ledger, notifier Notifier, link LinkFunc, l *logger.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		issuer:   issuer,
		ledger:   ledger,
		notifier: notifier,
		link:     link,
		logger:   l,
		metrics:  m,
	}
}

// Handle applies ev. Store commits happen before any message is sent, and a
// failed send never turns into an error.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Outcome, error) {
	if ev.PaymentID == "" {
		return "", ErrMalformedEvent
	}
	log := r.logger.With("payment_id", ev.PaymentID, "event", ev.Type, "status", ev.Status)

	switch ev.Status {
	case models.PaymentSucceeded:
		return r.succeeded(ctx, log, ev)
	case models.PaymentCanceled:
		return r.closed(ctx, log, ev, OutcomeCanceled, msgPaymentCanceled)
	case models.PaymentFailed:
		return r.closed(ctx, log, ev, OutcomeFailed, msgPaymentFailed)
	default:
		log.Infow("Ignoring payment event without a terminal status")
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) succeeded(ctx context.Context, log *logger.Logger, ev Event) (Outcome, error) {
	grant, err := r.issuer.MarkPaidAndIssueToken(ctx, ev.PaymentID)
	switch {
	case errors.Is(err, access.ErrUnknownPayment):
		log.Warnw("Succeeded payment is not in the ledger", "metadata_user", ev.UserID)
		return OutcomeUnknownPayment, nil
	case errors.Is(err, access.ErrRevoked):
		log.Warnw("Replayed payment for revoked account, access not restored")
		return OutcomeRevoked, nil
	case errors.Is(err, access.ErrPaymentClosed):
		log.Warnw("Succeeded event for a payment that already ended")
		return OutcomeClosed, nil
	case err != nil:
		return "", fmt.Errorf("mark payment %s paid: %w", ev.PaymentID, err)
	}

	outcome := OutcomeGranted
	if grant.Replayed {
		outcome = OutcomeReplayed
	}
	log.Infow("Payment succeeded", "user_id", grant.UserID, "replayed", grant.Replayed)

	r.notify(ctx, log, grant.UserID, msgPaymentConfirmed)
	r.notify(ctx, log, grant.UserID, fmt.Sprintf(msgAccessLink, r.link(grant.Token)))
	return outcome, nil
}

func (r *Reconciler) closed(ctx context.Context, log *logger.Logger, ev Event, outcome Outcome, text string) (Outcome, error) {
	changed, err := r.ledger.SetPaymentStatus(ctx, ev.PaymentID, ev.Status)
	if err != nil {
		return "", fmt.Errorf("set payment %s %s: %w", ev.PaymentID, ev.Status, err)
	}

	userID, err := r.ledger.LookupUser(ctx, ev.PaymentID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		userID = ev.UserID
	case err != nil:
		return "", fmt.Errorf("look up owner of %s: %w", ev.PaymentID, err)
	}

	log.Infow("Payment closed", "user_id", userID, "ledger_updated", changed)
	if userID == 0 {
		log.Warnw("No user to notify about closed payment")
		return outcome, nil
	}
	r.notify(ctx, log, userID, text)
	return outcome, nil
}

func (r *Reconciler) notify(ctx context.Context, log *logger.Logger, userID int64, text string) {
	if err := r.notifier.SendMessage(ctx, userID, text); err != nil {
		r.metrics.NotificationFailed()
		log.Errorw("Failed to notify user", "user_id", userID, "error", err)
	}
}
