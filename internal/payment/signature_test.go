package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	const secret = "shop-secret"
	body := []byte(`{"event":"payment.succeeded","object":{"id":"p1","status":"succeeded"}}`)
	valid := Sign(secret, body)

	flipped := []byte(string(body))
	flipped[10] ^= 0x01

	// Change the last hex digit of the digest to a different valid digit.
	last := valid[len(valid)-1]
	swap := byte('0')
	if last == '0' {
		swap = '1'
	}
	flippedHex := valid[:len(valid)-1] + string(swap)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		want   bool
	}{
		{"valid with prefix", secret, body, valid, true},
		{"valid without prefix", secret, body, strings.TrimPrefix(valid, "sha256="), true},
		{"flipped byte", secret, flipped, valid, false},
		{"flipped hex digit", secret, body, flippedHex, false},
		{"missing header", secret, body, "", false},
		{"wrong secret", "other", body, valid, false},
		{"not hex", secret, body, "sha256=zz", false},
		{"empty secret", "", body, Sign("", body), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, tt.body, tt.header))
		})
	}
}
