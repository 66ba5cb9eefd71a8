package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"paygate-bot/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTokenConflict = errors.New("token already taken")
	// ErrRevoked is returned when a succeeded payment is replayed for an
	// account whose access has since been revoked.
	ErrRevoked = errors.New("access revoked")
	// ErrPaymentClosed is returned when a payment already ended as canceled or failed.
	ErrPaymentClosed = errors.New("payment already closed")
)

// Store is the account store and the payment ledger. Both backends
// (Postgres and SQLite) implement it with the same semantics.
type Store interface {
	UpsertAccount(ctx context.Context, userID int64, name, contact *string) error
	IsPaid(ctx context.Context, userID int64) (bool, error)
	GetToken(ctx context.Context, userID int64) (string, error)
	Revoke(ctx context.Context, userID int64) (bool, error)
	GetAccessInfo(ctx context.Context, userID int64) (*models.Account, error)
	GetStats(ctx context.Context) (*models.Stats, error)

	RecordAttempt(ctx context.Context, userID int64, paymentID string, amount decimal.Decimal, currency string) error
	LookupUser(ctx context.Context, paymentID string) (int64, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (bool, error)

	// MarkPaid moves the payment to succeeded and grants token to its owner
	// in one transaction.
	MarkPaid(ctx context.Context, paymentID, token string, paidAt time.Time) (*models.Grant, error)
	// ConsumeToken flips token_used for a paid, unused token. When nothing
	// was consumed it returns the current owner of the token, if any.
	ConsumeToken(ctx context.Context, token string) (*models.Account, bool, error)
	RenewToken(ctx context.Context, userID int64, token string) (bool, error)

	Ping(ctx context.Context) error
	Close()
}
