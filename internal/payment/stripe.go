// internal/payment/stripe.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"paygate-bot/config"
	"paygate-bot/internal/models"
)

// StripeSignatureHeader is the header Stripe signs webhook deliveries with.
const StripeSignatureHeader = "Stripe-Signature"

type StripeClient struct {
	secretKey     string
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

// StripeNotification is a checkout session event reduced to what the
// reconciler needs. Status is empty for events that carry no transition.
type StripeNotification struct {
	EventType string
	SessionID string
	Status    models.PaymentStatus
	UserID    int64
}

func NewStripeClient(cfg config.Stripe, pay config.Payment, baseURL string) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey
	stripe.SetHTTPClient(&http.Client{Timeout: pay.Timeout})

	returnURL := pay.ReturnURL
	if returnURL == "" {
		returnURL = strings.TrimSuffix(baseURL, "/") + "/"
	}

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		priceID:       cfg.PriceID,
		successURL:    returnURL,
		cancelURL:     returnURL,
	}
}

// CreatePayment opens a checkout session for the configured price. The
// amount is fixed by the price object; amount and currency are only echoed
// into metadata for reconciliation.
func (s *StripeClient) CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, currency string) (*Checkout, error) {
	// Ensure we're using the secret key for API operations
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	ref := strconv.FormatInt(userID, 10)
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(ref),
	}
	params.Context = ctx
	params.AddMetadata("user_vk_id", ref)
	params.AddMetadata("amount", amount.StringFixed(2)+" "+currency)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Checkout{PaymentID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the Stripe signature over payload and maps checkout
// session events onto payment statuses.
func (s *StripeClient) ParseWebhook(payload []byte, sig string) (*StripeNotification, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is not configured")
	}
	event, err := webhook.ConstructEvent(payload, sig, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid stripe signature: %w", err)
	}

	n := &StripeNotification{EventType: event.Type}
	if !strings.HasPrefix(event.Type, "checkout.session.") {
		return n, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	n.SessionID = sess.ID

	ref := sess.ClientReferenceID
	if ref == "" {
		ref = sess.Metadata["user_vk_id"]
	}
	if ref != "" {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			n.UserID = id
		}
	}

	switch event.Type {
	case "checkout.session.completed":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			n.Status = models.PaymentSucceeded
		}
	case "checkout.session.async_payment_succeeded":
		n.Status = models.PaymentSucceeded
	case "checkout.session.async_payment_failed":
		n.Status = models.PaymentFailed
	case "checkout.session.expired":
		n.Status = models.PaymentCanceled
	}
	return n, nil
}
