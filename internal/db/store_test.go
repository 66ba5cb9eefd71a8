package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate-bot/internal/models"
)

var price = decimal.RequireFromString("499.00")

func strPtr(s string) *string { return &s }

// runStoreSuite checks the behaviour both backends must share. open must
// return an empty store.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown user is not paid", func(t *testing.T) {
		s := open(t)
		paid, err := s.IsPaid(ctx, 404)
		require.NoError(t, err)
		assert.False(t, paid)

		_, err = s.GetToken(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetAccessInfo(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert merges fields and is idempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertAccount(ctx, 1, strPtr("Anna"), nil))
		require.NoError(t, s.UpsertAccount(ctx, 1, nil, strPtr("anna@example.com")))
		require.NoError(t, s.UpsertAccount(ctx, 1, nil, nil))
		require.NoError(t, s.UpsertAccount(ctx, 1, nil, nil))

		a, err := s.GetAccessInfo(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, a.Name)
		require.NotNil(t, a.Contact)
		assert.Equal(t, "Anna", *a.Name)
		assert.Equal(t, "anna@example.com", *a.Contact)
		assert.False(t, a.IsPaid)
		assert.Nil(t, a.Token)

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalUsers)
	})

	t.Run("record attempt links payment", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 7, "pay-7", price, "RUB"))
		require.NoError(t, s.RecordAttempt(ctx, 7, "pay-7", price, "RUB"))

		uid, err := s.LookupUser(ctx, "pay-7")
		require.NoError(t, err)
		assert.Equal(t, int64(7), uid)

		p, err := s.GetPayment(ctx, "pay-7")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCreated, p.Status)
		assert.True(t, price.Equal(p.Amount), "amount %s", p.Amount)
		assert.Equal(t, "RUB", p.Currency)

		a, err := s.GetAccessInfo(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, a.PaymentID)
		assert.Equal(t, "pay-7", *a.PaymentID)

		_, err = s.LookupUser(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mark paid on unknown payment changes nothing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertAccount(ctx, 2, nil, nil))

		_, err := s.MarkPaid(ctx, "missing", "tok-missing", paidAt)
		assert.ErrorIs(t, err, ErrNotFound)

		paid, err := s.IsPaid(ctx, 2)
		require.NoError(t, err)
		assert.False(t, paid)
		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.PaidUsers)
		assert.Empty(t, stats.Payments)
	})

	t.Run("mark paid grants token", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 3, "pay-3", price, "RUB"))

		grant, err := s.MarkPaid(ctx, "pay-3", "tok-3", paidAt)
		require.NoError(t, err)
		assert.Equal(t, &models.Grant{UserID: 3, Token: "tok-3"}, grant)

		paid, err := s.IsPaid(ctx, 3)
		require.NoError(t, err)
		assert.True(t, paid)

		token, err := s.GetToken(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "tok-3", token)

		p, err := s.GetPayment(ctx, "pay-3")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentSucceeded, p.Status)

		a, err := s.GetAccessInfo(ctx, 3)
		require.NoError(t, err)
		require.NotNil(t, a.PaidAt)
		assert.True(t, paidAt.Equal(*a.PaidAt), "paid_at %s", a.PaidAt)
		assert.False(t, a.TokenUsed)
	})

	t.Run("replayed success returns existing token", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 4, "pay-4", price, "RUB"))
		_, err := s.MarkPaid(ctx, "pay-4", "tok-4", paidAt)
		require.NoError(t, err)

		grant, err := s.MarkPaid(ctx, "pay-4", "tok-4b", paidAt)
		require.NoError(t, err)
		assert.Equal(t, &models.Grant{UserID: 4, Token: "tok-4", Replayed: true}, grant)

		token, err := s.GetToken(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, "tok-4", token)
	})

	t.Run("replay after revoke grants nothing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 5, "pay-5", price, "RUB"))
		_, err := s.MarkPaid(ctx, "pay-5", "tok-5", paidAt)
		require.NoError(t, err)

		ok, err := s.Revoke(ctx, 5)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.MarkPaid(ctx, "pay-5", "tok-5b", paidAt)
		assert.ErrorIs(t, err, ErrRevoked)

		paid, err := s.IsPaid(ctx, 5)
		require.NoError(t, err)
		assert.False(t, paid)
		_, err = s.GetToken(ctx, 5)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("terminal statuses do not move", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 6, "pay-6", price, "RUB"))

		_, err := s.SetPaymentStatus(ctx, "pay-6", models.PaymentCreated)
		assert.Error(t, err)

		changed, err := s.SetPaymentStatus(ctx, "pay-6", models.PaymentCanceled)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.SetPaymentStatus(ctx, "pay-6", models.PaymentFailed)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = s.MarkPaid(ctx, "pay-6", "tok-6", paidAt)
		assert.ErrorIs(t, err, ErrPaymentClosed)

		require.NoError(t, s.RecordAttempt(ctx, 6, "pay-6", price, "RUB"))
		p, err := s.GetPayment(ctx, "pay-6")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCanceled, p.Status)

		paid, err := s.IsPaid(ctx, 6)
		require.NoError(t, err)
		assert.False(t, paid)
	})

	t.Run("token collision rolls back", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 10, "pay-10", price, "RUB"))
		require.NoError(t, s.RecordAttempt(ctx, 11, "pay-11", price, "RUB"))
		_, err := s.MarkPaid(ctx, "pay-10", "same", paidAt)
		require.NoError(t, err)

		_, err = s.MarkPaid(ctx, "pay-11", "same", paidAt)
		assert.ErrorIs(t, err, ErrTokenConflict)

		p, err := s.GetPayment(ctx, "pay-11")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCreated, p.Status)

		grant, err := s.MarkPaid(ctx, "pay-11", "other", paidAt)
		require.NoError(t, err)
		assert.Equal(t, int64(11), grant.UserID)
	})

	t.Run("consume token once", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.RecordAttempt(ctx, 8, "pay-8", price, "RUB"))
		_, err := s.MarkPaid(ctx, "pay-8", "tok-8", paidAt)
		require.NoError(t, err)

		a, consumed, err := s.ConsumeToken(ctx, "tok-8")
		require.NoError(t, err)
		assert.True(t, consumed)
		assert.Equal(t, int64(8), a.UserID)

		a, consumed, err = s.ConsumeToken(ctx, "tok-8")
		require.NoError(t, err)
		assert.False(t, consumed)
		assert.Equal(t, int64(8), a.UserID)
		assert.True(t, a.IsPaid)
		assert.True(t, a.TokenUsed)

		_, _, err = s.ConsumeToken(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.AccessedUsers)
		assert.Equal(t, int64(1), stats.Payments[string(models.PaymentSucceeded)])
	})

	t.Run("renew only for paid accounts", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertAccount(ctx, 9, nil, nil))
		ok, err := s.RenewToken(ctx, 9, "tok-9")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.RecordAttempt(ctx, 9, "pay-9", price, "RUB"))
		_, err = s.MarkPaid(ctx, "pay-9", "tok-9", paidAt)
		require.NoError(t, err)
		_, _, err = s.ConsumeToken(ctx, "tok-9")
		require.NoError(t, err)

		ok, err = s.RenewToken(ctx, 9, "tok-9b")
		require.NoError(t, err)
		assert.True(t, ok)

		a, err := s.GetAccessInfo(ctx, 9)
		require.NoError(t, err)
		token, active := a.ActiveToken()
		assert.True(t, active)
		assert.Equal(t, "tok-9b", token)
		assert.False(t, a.TokenUsed)
	})

	t.Run("revoke unknown user", func(t *testing.T) {
		s := open(t)
		ok, err := s.Revoke(ctx, 999)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
