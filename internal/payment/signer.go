package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer binds an invoice reference to the merchant's API key.
type Signer interface {
	Sign(reference, secretKey string) string
}

// HMACSigner produces hex encoded HMAC-SHA256 tokens.
type HMACSigner struct{}

func (HMACSigner) Sign(reference, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(reference))
	return hex.EncodeToString(mac.Sum(nil))
}

// TokensEqual compares two tokens in constant time.
func TokensEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
