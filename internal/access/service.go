// Package access issues, redeems, renews and revokes single-use access tokens.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paygate-bot/internal/db"
	"paygate-bot/internal/metrics"
	"paygate-bot/internal/models"
)

var (
	ErrUnknownPayment = errors.New("unknown payment")
	ErrNotPaid        = errors.New("account is not paid")
	ErrRevoked        = errors.New("access was revoked")
	ErrPaymentClosed  = errors.New("payment is canceled or failed")
)

// maxTokenAttempts bounds regeneration after a unique-constraint collision.
const maxTokenAttempts = 5

// Store is the part of db.Store the token lifecycle needs.
type Store interface {
	MarkPaid(ctx context.Context, paymentID, token string, paidAt time.Time) (*models.Grant, error)
	ConsumeToken(ctx context.Context, token string) (*models.Account, bool, error)
	RenewToken(ctx context.Context, userID int64, token string) (bool, error)
	Revoke(ctx context.Context, userID int64) (bool, error)
}

type Service struct {
	store    Store
	newToken TokenFunc
	now      func() time.Time
	metrics  *metrics.Metrics
}

func NewService(store Store, newToken TokenFunc, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		newToken: newToken,
		now:      time.Now,
		metrics:  m,
	}
}

// MarkPaidAndIssueToken settles paymentID as succeeded and grants its owner
// a fresh token. A replay for an already succeeded payment returns the token
// the account holds now instead of minting another one.
func (s *Service) MarkPaidAndIssueToken(ctx context.Context, paymentID string) (*models.Grant, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		grant, err := s.store.MarkPaid(ctx, paymentID, s.newToken(), s.now())
		switch {
		case err == nil:
			if !grant.Replayed {
				s.metrics.TokenIssued("payment")
			}
			return grant, nil
		case errors.Is(err, db.ErrTokenConflict):
			continue
		case errors.Is(err, db.ErrNotFound):
			return nil, ErrUnknownPayment
		case errors.Is(err, db.ErrRevoked):
			return nil, ErrRevoked
		case errors.Is(err, db.ErrPaymentClosed):
			return nil, ErrPaymentClosed
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("mark paid %s: no unique token after %d attempts", paymentID, maxTokenAttempts)
}

// Verify redeems token. A successful verdict consumes it, so a repeated call
// with the same token reports it as already used.
func (s *Service) Verify(ctx context.Context, token string) (*models.Verdict, error) {
	if token == "" {
		return s.verdict(&models.Verdict{Message: models.VerdictNotFound}), nil
	}

	account, consumed, err := s.store.ConsumeToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return s.verdict(&models.Verdict{Message: models.VerdictNotFound}), nil
	}
	if err != nil {
		return nil, err
	}

	uid := account.UserID
	switch {
	case consumed:
		return s.verdict(&models.Verdict{Valid: true, Message: models.VerdictOK, UserID: &uid}), nil
	case !account.IsPaid:
		return s.verdict(&models.Verdict{Message: models.VerdictNotPaid, UserID: &uid}), nil
	default:
		return s.verdict(&models.Verdict{Message: models.VerdictAlreadyUsed, UserID: &uid}), nil
	}
}

func (s *Service) verdict(v *models.Verdict) *models.Verdict {
	s.metrics.Redemption(v.Message)
	return v
}

// Renew mints a new unused token for a paid account.
func (s *Service) Renew(ctx context.Context, userID int64) (string, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token := s.newToken()
		ok, err := s.store.RenewToken(ctx, userID, token)
		switch {
		case errors.Is(err, db.ErrTokenConflict):
			continue
		case err != nil:
			return "", err
		case !ok:
			return "", ErrNotPaid
		}
		s.metrics.TokenIssued("renew")
		return token, nil
	}
	return "", fmt.Errorf("renew %d: no unique token after %d attempts", userID, maxTokenAttempts)
}

// Revoke withdraws access; it reports whether the account existed.
func (s *Service) Revoke(ctx context.Context, userID int64) (bool, error) {
	return s.store.Revoke(ctx, userID)
}
