// Package ticket issues signed tickets after payment and redeems them
// exactly once at the gate.
package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/keyring"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

type Issuer struct {
	Keyring   *keyring.Keyring
	TicketTTL time.Duration
	Logger    *logger.Logger
}

func NewIssuer(kr *keyring.Keyring, ticketTTL time.Duration, log *logger.Logger) *Issuer {
	return &Issuer{Keyring: kr, TicketTTL: ticketTTL, Logger: log}
}

// IssueForOrder signs one ticket per seat of a paid order and inserts
// the rows through idb, which is the reconciler's transaction so the
// tickets land atomically with the seat transition to sold.
func (i *Issuer) IssueForOrder(ctx context.Context, idb bun.IDB, order *models.Order) ([]models.Ticket, error) {
	now := time.Now().UTC()
	tickets := make([]models.Ticket, 0, len(order.SeatIDs))

	for _, seatID := range order.SeatIDs {
		claims := models.TicketClaims{
			JTI:           uuid.NewString(),
			OrderID:       order.OrderID,
			PerformanceID: order.PerformanceID,
			SeatID:        seatID,
			TenantID:      order.TenantID,
			IssuedAt:      now.Unix(),
			ExpiresAt:     now.Add(i.TicketTTL).Unix(),
		}

		token, err := i.Keyring.Sign(claims)
		if err != nil {
			return nil, apperror.Wrap(apperror.System, "ticket_sign", "failed to sign ticket", err)
		}

		png, err := qrcode.Encode(token, qrcode.Medium, 256)
		if err != nil {
			return nil, apperror.Wrap(apperror.System, "ticket_qr", "failed to render ticket QR", err)
		}

		tickets = append(tickets, models.Ticket{
			JTI:           claims.JTI,
			OrderID:       order.OrderID,
			SeatID:        seatID,
			PerformanceID: order.PerformanceID,
			TenantID:      order.TenantID,
			Token:         token,
			QRCode:        png,
			IssuedAt:      now,
			ExpiresAt:     time.Unix(claims.ExpiresAt, 0).UTC(),
		})
	}

	if _, err := idb.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return nil, apperror.Wrap(apperror.System, "ticket_insert", "failed to store tickets", err)
	}

	i.Logger.Info("TICKET", fmt.Sprintf("issued %d tickets for order %s", len(tickets), order.OrderID))
	return tickets, nil
}
