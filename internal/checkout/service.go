// Package checkout sequences the idempotency guard, hold verification,
// the database transaction (order insert + seat compare-and-set +
// payment-intent creation), and response caching into one consistent
// state machine: new -> in-progress -> committed | failed.
package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/idempotency"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/payment"
)

const idempotencyScope = "checkout"

// HoldChecker is the fast-reject gate in front of the transaction.
type HoldChecker interface {
	Verify(ctx context.Context, tenant, performanceID string, seatIDs []string, rawToken string) ([]string, error)
}

// EventPublisher emits order lifecycle events. Publishing is
// best-effort: a broker failure never fails a checkout.
type EventPublisher interface {
	PublishOrderCreated(order models.Order) error
}

type Service struct {
	DB          *bun.DB
	Idempotency idempotency.Store
	Holds       HoldChecker
	Payments    payment.Provider
	Events      EventPublisher
	Config      config.IdempotencyConfig
	Currency    string
	Logger      *logger.Logger
}

func NewService(db *bun.DB, idem idempotency.Store, holds HoldChecker, payments payment.Provider, events EventPublisher, cfg config.IdempotencyConfig, currency string, log *logger.Logger) *Service {
	return &Service{
		DB:          db,
		Idempotency: idem,
		Holds:       holds,
		Payments:    payments,
		Events:      events,
		Config:      cfg,
		Currency:    currency,
		Logger:      log,
	}
}

type Input struct {
	Tenant         string
	IdempotencyKey string
	// RequestID identifies this attempt; it is what lets the failure
	// policy release only its own in-progress marker.
	RequestID string
	HoldToken string
	Request   models.CheckoutRequest
	RawBody   []byte
}

type Outcome struct {
	Status     int
	InProgress bool
	Response   *models.CheckoutResponse
}

// Checkout runs the full orchestration. Every validation failure before
// Begin costs nothing; every failure after Begin applies the configured
// idempotency failure policy before returning.
func (s *Service) Checkout(ctx context.Context, in Input) (*Outcome, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	key := idempotency.HeaderKey(in.Tenant, in.IdempotencyKey)
	bodyHash := idempotency.BodyHash(in.RawBody)

	begin, err := s.Idempotency.Begin(ctx, idempotencyScope, key, in.RequestID, bodyHash, s.Config.InProgressTTL)
	if err != nil {
		// Cannot prove this is not a duplicate: fail closed.
		return nil, err
	}

	switch begin.State {
	case idempotency.StateInProgress:
		return &Outcome{Status: http.StatusAccepted, InProgress: true}, nil
	case idempotency.StateCommitted:
		var cached models.CheckoutResponse
		if err := json.Unmarshal(begin.Cached.Body, &cached); err != nil {
			return nil, apperror.Wrap(apperror.System, "idempotency_replay", "corrupt cached response", err)
		}
		cached.Replayed = true
		return &Outcome{Status: begin.Cached.Status, Response: &cached}, nil
	case idempotency.StateConflict:
		return nil, apperror.New(apperror.Conflict, "idempotency_key_reuse", "idempotency key reused with a different request body")
	}

	resp, err := s.run(ctx, in)
	if err != nil {
		s.failed(ctx, key, in.RequestID)
		return nil, err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.failed(ctx, key, in.RequestID)
		return nil, apperror.Wrap(apperror.System, "idempotency_commit", "failed to serialize response", err)
	}
	if err := s.Idempotency.Commit(ctx, idempotencyScope, key,
		idempotency.CachedResponse{Status: http.StatusCreated, Body: body}, s.Config.CommittedTTL); err != nil {
		// The order exists; an uncommitted record only means a retry
		// within the in-progress TTL sees 202 instead of the cache.
		s.Logger.Error("CHECKOUT", fmt.Sprintf("idempotency commit failed for %s: %v", resp.OrderID, err))
	}

	return &Outcome{Status: http.StatusCreated, Response: resp}, nil
}

// run does the work between Begin and Commit: hold gate, then the
// authoritative transaction.
func (s *Service) run(ctx context.Context, in Input) (*models.CheckoutResponse, error) {
	req := in.Request

	if _, err := s.Holds.Verify(ctx, in.Tenant, req.PerformanceID, req.SeatIDs, in.HoldToken); err != nil {
		return nil, err
	}

	order := models.Order{
		OrderID:       uuid.NewString(),
		TenantID:      in.Tenant,
		PerformanceID: req.PerformanceID,
		SeatIDs:       req.SeatIDs,
		Status:        models.OrderPending,
		Currency:      s.Currency,
		CustomerEmail: req.CustomerEmail,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	var resp *models.CheckoutResponse
	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		total, err := seatTotal(ctx, tx, in.Tenant, req.PerformanceID, req.SeatIDs)
		if err != nil {
			return err
		}
		order.TotalMinor = total

		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return apperror.Wrap(apperror.System, "order_insert", "failed to create order", err)
		}

		// The compare-and-set below is the authoritative no-oversell
		// guarantee; the hold check above was only a cheap early
		// rejection. Zero affected rows on any seat aborts everything.
		for _, seatID := range req.SeatIDs {
			if err := reserveSeat(ctx, tx, req.PerformanceID, seatID, order.OrderID); err != nil {
				return err
			}
		}

		intent, err := s.Payments.CreateIntent(ctx, payment.IntentParams{
			OrderID:       order.OrderID,
			AmountMinor:   order.TotalMinor,
			Currency:      order.Currency,
			CustomerEmail: order.CustomerEmail,
		})
		if err != nil {
			return err
		}

		order.PaymentIntentID = intent.ID
		if _, err := tx.NewUpdate().
			Model(&order).
			Column("payment_intent_id").
			Where("order_id = ?", order.OrderID).
			Exec(ctx); err != nil {
			return apperror.Wrap(apperror.System, "order_update", "failed to persist payment intent", err)
		}

		resp = &models.CheckoutResponse{
			OrderID:         order.OrderID,
			Status:          order.Status,
			TotalMinor:      order.TotalMinor,
			Currency:        order.Currency,
			SeatIDs:         order.SeatIDs,
			PaymentIntentID: intent.ID,
			ClientSecret:    intent.ClientSecret,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogOrder("CREATE", order.OrderID, fmt.Sprintf("%d seats, total %d %s", len(order.SeatIDs), order.TotalMinor, order.Currency))

	if s.Events != nil {
		if err := s.Events.PublishOrderCreated(order); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("order_created publish failed for %s: %v", order.OrderID, err))
		}
	}
	return resp, nil
}

// failed applies the configured failure policy to the in-progress
// idempotency record.
func (s *Service) failed(ctx context.Context, key, requestID string) {
	if s.Config.OnFailure != config.FailureRelease {
		return
	}
	if err := s.Idempotency.Release(ctx, idempotencyScope, key, requestID); err != nil {
		s.Logger.Error("CHECKOUT", fmt.Sprintf("idempotency release failed: %v", err))
	}
}

func validate(in Input) error {
	if in.Tenant == "" {
		return apperror.New(apperror.Validation, "missing_tenant", "tenant is required")
	}
	if len(in.IdempotencyKey) < 8 {
		return apperror.New(apperror.Validation, "missing_idempotency_key", "Idempotency-Key header of at least 8 characters is required")
	}
	if in.HoldToken == "" {
		return apperror.New(apperror.Precondition, "missing_hold_token", "X-Seat-Hold-Token header is required")
	}
	if in.Request.PerformanceID == "" {
		return apperror.New(apperror.Validation, "missing_performance", "performance id is required")
	}
	if len(in.Request.SeatIDs) == 0 {
		return apperror.New(apperror.Validation, "no_seats", "seat id list must not be empty")
	}
	return nil
}
