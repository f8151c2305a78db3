// Package migrations creates the tables this service owns. Schema
// evolution beyond create-if-missing is handled by external tooling.
package migrations

import (
	"context"

	"github.com/uptrace/bun"

	"ms-boxoffice/internal/models"
)

// tables lists every model in dependency order.
var tables = []interface{}{
	(*models.Order)(nil),
	(*models.SeatState)(nil),
	(*models.Ticket)(nil),
	(*models.Redemption)(nil),
	(*models.WebhookEvent)(nil),
}

// CreateTables creates any missing tables. Uniqueness that the system
// depends on (redemptions.jti, webhook_events.event_id, tickets.jti)
// lives in primary keys, so create-table is enough to enforce it.
func CreateTables(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ResetTables drops and recreates everything. Test helper.
func ResetTables(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if err := db.ResetModel(ctx, model); err != nil {
			return err
		}
	}
	return nil
}
