package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPaid      OrderStatus = "paid"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID         string      `bun:"order_id,pk" json:"order_id"`
	TenantID        string      `bun:"tenant_id" json:"tenant_id"`
	PerformanceID   string      `bun:"performance_id" json:"performance_id"`
	SeatIDs         []string    `bun:"seat_ids,array" json:"seat_ids"`
	Status          OrderStatus `bun:"status" json:"status"`
	TotalMinor      int64       `bun:"total_minor" json:"total_minor"`
	Currency        string      `bun:"currency" json:"currency"`
	CustomerEmail   string      `bun:"customer_email" json:"customer_email"`
	PaymentIntentID string      `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time   `bun:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `bun:"updated_at" json:"updated_at"`
}

// CheckoutRequest is the body of POST /api/v1/checkout. The hold token
// and idempotency key travel in headers, not the body.
type CheckoutRequest struct {
	PerformanceID string   `json:"performance_id"`
	SeatIDs       []string `json:"seat_ids"`
	CustomerEmail string   `json:"customer_email"`
}

type CheckoutResponse struct {
	OrderID         string      `json:"order_id"`
	Status          OrderStatus `json:"status"`
	TotalMinor      int64       `json:"total_minor"`
	Currency        string      `json:"currency"`
	SeatIDs         []string    `json:"seat_ids"`
	PaymentIntentID string      `json:"payment_intent_id"`
	ClientSecret    string      `json:"client_secret,omitempty"`
	// Replayed marks responses served from the idempotency cache.
	Replayed bool `json:"replayed,omitempty"`
}
