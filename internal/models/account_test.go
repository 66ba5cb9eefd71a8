package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeField(t *testing.T) {
	old, next := "old", "new"

	assert.Equal(t, &next, MergeField(&old, &next))
	assert.Equal(t, &old, MergeField(&old, nil))
	assert.Nil(t, MergeField(nil, nil))
	assert.Equal(t, &next, MergeField(nil, &next))
}

func TestActiveToken(t *testing.T) {
	tok := "abc"

	_, ok := (&Account{Token: &tok}).ActiveToken()
	assert.False(t, ok, "unpaid account")

	_, ok = (&Account{IsPaid: true}).ActiveToken()
	assert.False(t, ok, "no token")

	got, ok := (&Account{IsPaid: true, Token: &tok}).ActiveToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	var nilAccount *Account
	_, ok = nilAccount.ActiveToken()
	assert.False(t, ok)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentCreated.Terminal())
	assert.True(t, PaymentSucceeded.Terminal())
	assert.True(t, PaymentCanceled.Terminal())
	assert.True(t, PaymentFailed.Terminal())
}
