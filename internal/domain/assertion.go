package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// AssertionClaims is the signed payload a bank sends to a peer bank to assert
// a transfer. The registered `jti` claim carries the sending bank's
// transaction identifier and doubles as the end-to-end idempotency key; the
// `iss` claim and the token header's `kid` both carry the sending bank's
// prefix so the receiver can resolve the signing key through the registry.
type AssertionClaims struct {
	SourceAccount      string `json:"sourceAccount"`
	DestinationAccount string `json:"destinationAccount"`
	Currency           string `json:"currency"`
	Amount             int64  `json:"amount"` // in the sending leg's minor units
	Description        string `json:"description,omitempty"`
	SenderName         string `json:"senderName"`
	jwt.RegisteredClaims
}
