package ticket

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/keyring"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
)

// Redeemer verifies a presented ticket and enforces exactly-once
// redemption. Cryptographic validity and redeemability are separate
// questions: a correctly signed, unexpired ticket still redeems only
// once, decided by whether the redemptions insert lands. A prior read
// never decides the outcome.
type Redeemer struct {
	DB      *bun.DB
	Keyring *keyring.Keyring
	Logger  *logger.Logger

	now func() time.Time
}

func NewRedeemer(db *bun.DB, kr *keyring.Keyring, log *logger.Logger) *Redeemer {
	return &Redeemer{DB: db, Keyring: kr, Logger: log, now: time.Now}
}

func (r *Redeemer) Redeem(ctx context.Context, rawToken, expectedTenant, gate string) (*models.RedeemResponse, error) {
	claims, err := r.Keyring.Verify(rawToken, expectedTenant, r.now())
	if err != nil {
		return nil, mapVerifyError(err)
	}

	redeemedAt := r.now().UTC()
	resp := &models.RedeemResponse{
		JTI:           claims.JTI,
		OrderID:       claims.OrderID,
		SeatID:        claims.SeatID,
		PerformanceID: claims.PerformanceID,
		RedeemedAt:    redeemedAt,
	}

	err = r.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Ticket)(nil)).
			Where("jti = ?", claims.JTI).
			Exists(ctx)
		if err != nil {
			return apperror.Wrap(apperror.System, "redeem", "ticket lookup failed", err)
		}
		if !exists {
			return apperror.New(apperror.NotFound, "unknown_ticket", "ticket not found")
		}

		redemption := models.Redemption{JTI: claims.JTI, Gate: gate, RedeemedAt: redeemedAt}
		res, err := tx.NewInsert().
			Model(&redemption).
			On("CONFLICT (jti) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return apperror.Wrap(apperror.System, "redeem", "redemption insert failed", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return apperror.Wrap(apperror.System, "redeem", "redemption insert failed", err)
		}
		if rows == 0 {
			// The jti already landed: this is a double scan.
			return apperror.New(apperror.Conflict, "already_redeemed", "ticket already redeemed")
		}

		if _, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("redeemed = ?", true).
			Where("jti = ?", claims.JTI).
			Exec(ctx); err != nil {
			return apperror.Wrap(apperror.System, "redeem", "ticket flag update failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info("TICKET", "redeemed "+claims.JTI+" at gate "+gate)
	return resp, nil
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, keyring.ErrMalformedToken):
		return apperror.Wrap(apperror.Validation, "invalid_token", "malformed ticket token", err)
	case errors.Is(err, keyring.ErrUnknownKeyID):
		return apperror.Wrap(apperror.Auth, "unknown_kid", "ticket signed by unknown key", err)
	case errors.Is(err, keyring.ErrInvalidSignature):
		return apperror.Wrap(apperror.Auth, "invalid_signature", "ticket signature invalid", err)
	case errors.Is(err, keyring.ErrTicketExpired):
		return apperror.Wrap(apperror.Validation, "ticket_expired", "ticket expired", err)
	case errors.Is(err, keyring.ErrTenantMismatch):
		return apperror.Wrap(apperror.Auth, "tenant_mismatch", "ticket belongs to a different tenant", err)
	default:
		return apperror.Wrap(apperror.System, "verify", "ticket verification failed", err)
	}
}
