package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WebhookEvent records a processed payment-provider event. The unique
// event_id column deduplicates at-least-once delivery.
type WebhookEvent struct {
	bun.BaseModel `bun:"table:webhook_events"`

	EventID    string    `bun:"event_id,pk" json:"event_id"`
	Type       string    `bun:"type" json:"type"`
	ReceivedAt time.Time `bun:"received_at" json:"received_at"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
