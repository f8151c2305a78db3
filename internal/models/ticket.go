package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	JTI           string    `bun:"jti,pk" json:"jti"`
	OrderID       string    `bun:"order_id" json:"order_id"`
	SeatID        string    `bun:"seat_id" json:"seat_id"`
	PerformanceID string    `bun:"performance_id" json:"performance_id"`
	TenantID      string    `bun:"tenant_id" json:"tenant_id"`
	Token         string    `bun:"token" json:"token"`
	QRCode        []byte    `bun:"qr_code" json:"qr_code,omitempty"`
	IssuedAt      time.Time `bun:"issued_at" json:"issued_at"`
	ExpiresAt     time.Time `bun:"expires_at" json:"expires_at"`
	Redeemed      bool      `bun:"redeemed" json:"redeemed"`
}

// Redemption records a scanned ticket. The unique jti column is what
// makes redemption exactly-once: the insert either lands or conflicts.
type Redemption struct {
	bun.BaseModel `bun:"table:redemptions"`

	JTI        string    `bun:"jti,pk" json:"jti"`
	Gate       string    `bun:"gate" json:"gate"`
	RedeemedAt time.Time `bun:"redeemed_at" json:"redeemed_at"`
}

// TicketClaims is the signed payload carried inside a ticket token.
type TicketClaims struct {
	JTI           string `json:"jti"`
	OrderID       string `json:"order_id"`
	PerformanceID string `json:"performance_id"`
	SeatID        string `json:"seat_id"`
	TenantID      string `json:"tenant_id"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}

type RedeemRequest struct {
	Token string `json:"token"`
	Gate  string `json:"gate,omitempty"`
}

type RedeemResponse struct {
	JTI           string    `json:"jti"`
	OrderID       string    `json:"order_id"`
	SeatID        string    `json:"seat_id"`
	PerformanceID string    `json:"performance_id"`
	RedeemedAt    time.Time `json:"redeemed_at"`
}

// PublicKey is one entry of the published key set, shaped like a JWK so
// clients can verify tickets offline.
type PublicKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
}

type KeySetResponse struct {
	Keys []PublicKey `json:"keys"`
}
