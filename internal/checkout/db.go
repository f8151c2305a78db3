package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/models"
)

// seatTotal sums the server-side prices of the requested seats. Every
// seat must exist under the tenant and performance; the client never
// supplies an amount.
func seatTotal(ctx context.Context, idb bun.IDB, tenant, performanceID string, seatIDs []string) (int64, error) {
	var seats []models.SeatState
	err := idb.NewSelect().
		Model(&seats).
		Where("tenant_id = ?", tenant).
		Where("performance_id = ?", performanceID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Scan(ctx)
	if err != nil {
		return 0, apperror.Wrap(apperror.System, "seat_lookup", "seat lookup failed", err)
	}
	if len(seats) != len(seatIDs) {
		return 0, apperror.New(apperror.Validation, "unknown_seat", "one or more seats do not exist for this performance")
	}

	var total int64
	for _, seat := range seats {
		total += seat.PriceMinor
	}
	return total, nil
}

// reserveSeat is the row-level compare-and-set: the update lands only
// if the seat is still available. Zero affected rows means another
// checkout won the seat.
func reserveSeat(ctx context.Context, idb bun.IDB, performanceID, seatID, orderID string) error {
	res, err := idb.NewUpdate().
		Model((*models.SeatState)(nil)).
		Set("state = ?", models.SeatReserved).
		Set("order_id = ?", orderID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("performance_id = ?", performanceID).
		Where("seat_id = ?", seatID).
		Where("state = ?", models.SeatAvailable).
		Exec(ctx)
	if err != nil {
		return apperror.Wrap(apperror.System, "seat_cas", "seat update failed", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperror.Wrap(apperror.System, "seat_cas", "seat update failed", err)
	}
	if rows == 0 {
		return apperror.New(apperror.Conflict, "seat_taken", fmt.Sprintf("seat %s is no longer available", seatID))
	}
	return nil
}

// GetOrder fetches one order scoped to its tenant.
func GetOrder(ctx context.Context, db *bun.DB, tenant, orderID string) (*models.Order, error) {
	var order models.Order
	err := db.NewSelect().
		Model(&order).
		Where("order_id = ?", orderID).
		Where("tenant_id = ?", tenant).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.Wrap(apperror.NotFound, "unknown_order", "order not found", err)
	}
	if err != nil {
		// A driver or connection failure is not "no such order".
		return nil, apperror.Wrap(apperror.System, "order_lookup", "order lookup failed", err)
	}
	return &order, nil
}
