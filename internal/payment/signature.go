package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of a YooKassa notification body.
const SignatureHeader = "X-Request-Signature-SHA256"

// VerifySignature checks header against HMAC-SHA256(secret, body). body must
// be the raw request bytes; header may carry a "sha256=" prefix.
func VerifySignature(secret string, body []byte, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")

	given, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
