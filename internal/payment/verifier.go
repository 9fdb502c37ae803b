// Package payment authenticates gateway payment callbacks and opens orders
// with the gateway.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"fitpass/internal/domain"
)

// Verifier checks gateway signatures of the form
// hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
type Verifier struct {
	secret []byte
}

// NewVerifier fails with ErrConfiguration when no secret is configured.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: payment key secret is empty", domain.ErrConfiguration)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify returns ErrForged unless signature matches the recomputed digest.
func (v *Verifier) Verify(orderID, paymentID, signature string) error {
	if orderID == "" || paymentID == "" || signature == "" {
		return domain.ErrForged
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrForged
	}
	if !hmac.Equal(v.digest(orderID, paymentID), given) {
		return domain.ErrForged
	}
	return nil
}

// Sign produces the signature the gateway would send for the pair.
func (v *Verifier) Sign(orderID, paymentID string) string {
	return hex.EncodeToString(v.digest(orderID, paymentID))
}

func (v *Verifier) digest(orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}
