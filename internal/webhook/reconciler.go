// Package webhook consumes payment-provider events and drives order
// and seat state transitions. Delivery is at-least-once; the event-id
// uniqueness insert makes processing exactly-once.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	stripewebhook "github.com/stripe/stripe-go/v74/webhook"
	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, idb bun.IDB, order *models.Order) ([]models.Ticket, error)
}

type EventPublisher interface {
	PublishOrderPaid(order models.Order) error
	PublishOrderFailed(order models.Order) error
}

type Reconciler struct {
	DB        *bun.DB
	Secret    string
	Tolerance time.Duration
	Issuer    TicketIssuer
	Events    EventPublisher
	Logger    *logger.Logger
}

func NewReconciler(db *bun.DB, secret string, tolerance time.Duration, issuer TicketIssuer, events EventPublisher, log *logger.Logger) *Reconciler {
	return &Reconciler{DB: db, Secret: secret, Tolerance: tolerance, Issuer: issuer, Events: events, Logger: log}
}

// Handle verifies the signature before touching any state, then
// dispatches on the event type. A deduped redelivery returns nil so the
// endpoint still acknowledges it.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := stripewebhook.ConstructEventWithTolerance(payload, signatureHeader, r.Secret, r.Tolerance)
	if err != nil {
		return apperror.Wrap(apperror.Validation, "invalid_signature", "webhook signature verification failed", err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return r.reconcile(ctx, event, true)
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return r.reconcile(ctx, event, false)
	default:
		r.Logger.LogWebhook(event.ID, "ignoring event type "+string(event.Type))
		return nil
	}
}

func (r *Reconciler) reconcile(ctx context.Context, event stripe.Event, succeeded bool) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return apperror.Wrap(apperror.Validation, "invalid_event", "failed to decode payment intent", err)
	}
	orderID, ok := intent.Metadata["order_id"]
	if !ok || orderID == "" {
		return apperror.New(apperror.Validation, "invalid_event", "payment intent has no order_id metadata")
	}

	var published *models.Order
	err := r.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record := models.WebhookEvent{
			EventID:    event.ID,
			Type:       string(event.Type),
			ReceivedAt: time.Now().UTC(),
		}
		res, err := tx.NewInsert().
			Model(&record).
			On("CONFLICT (event_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return apperror.Wrap(apperror.System, "webhook_dedup", "event record insert failed", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return apperror.Wrap(apperror.System, "webhook_dedup", "event record insert failed", err)
		}
		if rows == 0 {
			r.Logger.LogWebhook(event.ID, "already processed, skipping")
			return nil
		}

		var order models.Order
		if err := tx.NewSelect().
			Model(&order).
			Where("order_id = ?", orderID).
			Limit(1).
			Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.Wrap(apperror.NotFound, "unknown_order", "order not found for webhook", err)
			}
			return apperror.Wrap(apperror.System, "order_lookup", "order lookup failed", err)
		}

		if succeeded {
			if err := r.markPaid(ctx, tx, &order); err != nil {
				return err
			}
		} else {
			if err := r.markFailed(ctx, tx, &order); err != nil {
				return err
			}
		}
		published = &order
		return nil
	})
	if err != nil {
		// Rolled back, event left unmarked: the provider will retry.
		return err
	}

	if published != nil && r.Events != nil {
		var pubErr error
		if succeeded {
			pubErr = r.Events.PublishOrderPaid(*published)
		} else {
			pubErr = r.Events.PublishOrderFailed(*published)
		}
		if pubErr != nil {
			r.Logger.Error("KAFKA", fmt.Sprintf("order event publish failed for %s: %v", published.OrderID, pubErr))
		}
	}
	return nil
}

// markPaid confirms the order and sells only its currently reserved
// seats, then issues tickets inside the same transaction.
func (r *Reconciler) markPaid(ctx context.Context, tx bun.Tx, order *models.Order) error {
	order.Status = models.OrderPaid
	order.UpdatedAt = time.Now().UTC()
	if _, err := tx.NewUpdate().
		Model(order).
		Column("status", "updated_at").
		Where("order_id = ?", order.OrderID).
		Exec(ctx); err != nil {
		return apperror.Wrap(apperror.System, "order_update", "order status update failed", err)
	}

	if _, err := tx.NewUpdate().
		Model((*models.SeatState)(nil)).
		Set("state = ?", models.SeatSold).
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", order.OrderID).
		Where("state = ?", models.SeatReserved).
		Exec(ctx); err != nil {
		return apperror.Wrap(apperror.System, "seat_update", "seat transition to sold failed", err)
	}

	if r.Issuer != nil {
		if _, err := r.Issuer.IssueForOrder(ctx, tx, order); err != nil {
			return err
		}
	}

	r.Logger.LogOrder("PAID", order.OrderID, "seats sold, tickets issued")
	return nil
}

// markFailed releases only this order's reserved seats back to the
// pool and clears their order linkage.
func (r *Reconciler) markFailed(ctx context.Context, tx bun.Tx, order *models.Order) error {
	order.Status = models.OrderFailed
	order.UpdatedAt = time.Now().UTC()
	if _, err := tx.NewUpdate().
		Model(order).
		Column("status", "updated_at").
		Where("order_id = ?", order.OrderID).
		Exec(ctx); err != nil {
		return apperror.Wrap(apperror.System, "order_update", "order status update failed", err)
	}

	if _, err := tx.NewUpdate().
		Model((*models.SeatState)(nil)).
		Set("state = ?", models.SeatAvailable).
		Set("order_id = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", order.OrderID).
		Where("state = ?", models.SeatReserved).
		Exec(ctx); err != nil {
		return apperror.Wrap(apperror.System, "seat_update", "seat release failed", err)
	}

	r.Logger.LogOrder("FAILED", order.OrderID, "reserved seats released")
	return nil
}
