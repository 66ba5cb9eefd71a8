// internal/models/account.go
package models

import (
	"time"
)

// Account is one chat user and their payment/access state.
type Account struct {
	UserID    int64      `json:"user_id"`
	Name      *string    `json:"name,omitempty"`
	Contact   *string    `json:"contact,omitempty"`
	PaymentID *string    `json:"payment_id,omitempty"`
	IsPaid    bool       `json:"is_paid"`
	Token     *string    `json:"token,omitempty"`
	TokenUsed bool       `json:"token_used"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// ActiveToken returns the token only while the account is paid.
func (a *Account) ActiveToken() (string, bool) {
	if a == nil || !a.IsPaid || a.Token == nil {
		return "", false
	}
	return *a.Token, true
}

// MergeField keeps old unless next carries a value. Nil never overwrites.
func MergeField(old, next *string) *string {
	if next != nil {
		return next
	}
	return old
}

// Stats is the aggregate view reported by the health endpoint.
type Stats struct {
	TotalUsers    int64            `json:"total_users"`
	PaidUsers     int64            `json:"paid_users"`
	AccessedUsers int64            `json:"accessed_users"`
	Payments      map[string]int64 `json:"payments"`
}

// Verdict is the result of a token redemption attempt.
type Verdict struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	UserID  *int64 `json:"user_id,omitempty"`
}

const (
	VerdictOK          = "ok"
	VerdictNotFound    = "not found"
	VerdictNotPaid     = "payment not found"
	VerdictAlreadyUsed = "already used"
)
