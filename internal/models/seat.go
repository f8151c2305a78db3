package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatReserved  SeatStatus = "reserved"
	SeatSold      SeatStatus = "sold"
)

// SeatState is the relational system of record for a seat. Transitions:
// available -> reserved via the checkout compare-and-set, reserved ->
// sold on payment success, reserved -> available on payment failure or
// cancellation.
type SeatState struct {
	bun.BaseModel `bun:"table:seat_state"`

	PerformanceID string     `bun:"performance_id,pk" json:"performance_id"`
	SeatID        string     `bun:"seat_id,pk" json:"seat_id"`
	TenantID      string     `bun:"tenant_id" json:"tenant_id"`
	State         SeatStatus `bun:"state" json:"state"`
	OrderID       string     `bun:"order_id,nullzero" json:"order_id,omitempty"`
	PriceMinor    int64      `bun:"price_minor" json:"price_minor"`
	UpdatedAt     time.Time  `bun:"updated_at" json:"updated_at"`
}
