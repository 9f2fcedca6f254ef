// Package gateway talks to the external payment gateway: order creation over
// HTTP and verification of the signature the gateway attaches to callbacks.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer reproduces the gateway's callback signature: lowercase hex
// HMAC-SHA256 of "orderID|paymentID" keyed by the integration secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. Malformed hex is a mismatch.
func (s *Signer) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hmac.Equal(mac.Sum(nil), got)
}
