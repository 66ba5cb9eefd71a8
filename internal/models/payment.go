// internal/models/payment.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentSucceeded, PaymentCanceled, PaymentFailed:
		return true
	}
	return false
}

type Payment struct {
	PaymentID string          `json:"payment_id"`
	UserID    int64           `json:"user_vk_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Grant is what the payment-success transition hands back to the issuer.
type Grant struct {
	UserID int64
	Token  string
	// Replayed is set when the payment had already succeeded and the
	// existing token was returned untouched.
	Replayed bool
}
