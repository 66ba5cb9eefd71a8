package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Checkout is what the processor hands back for a new payment.
type Checkout struct {
	PaymentID string
	URL       string
}

// Creator starts a payment for a user with the processor.
type Creator interface {
	CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, currency string) (*Checkout, error)
}
