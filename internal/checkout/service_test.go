package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-boxoffice/internal/apperror"
	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/database/migrations"
	"ms-boxoffice/internal/hold"
	"ms-boxoffice/internal/idempotency"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/payment"
)

type fakePayments struct {
	calls int
	fail  bool
	last  payment.IntentParams
}

func (p *fakePayments) CreateIntent(_ context.Context, params payment.IntentParams) (*payment.Intent, error) {
	p.calls++
	p.last = params
	if p.fail {
		return nil, apperror.New(apperror.System, "payment_provider", "payment provider unavailable")
	}
	return &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", p.calls),
		ClientSecret: "cs_test",
	}, nil
}

type env struct {
	svc      *Service
	db       *bun.DB
	holds    *hold.MemoryStore
	payments *fakePayments
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.CreateTables(context.Background(), db))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	holds := hold.NewMemoryStore(config.HoldConfig{
		MinTTL: 30 * time.Second, MaxTTL: 15 * time.Minute, DefaultTTL: 2 * time.Minute,
	})
	payments := &fakePayments{}

	svc := NewService(
		db,
		idempotency.NewRedisStore(client),
		hold.NewVerifier(holds),
		payments,
		nil,
		config.IdempotencyConfig{
			InProgressTTL: 3 * time.Minute,
			CommittedTTL:  24 * time.Hour,
			OnFailure:     config.FailureRelease,
		},
		"usd",
		logger.Discard(),
	)

	return &env{svc: svc, db: db, holds: holds, payments: payments, mr: mr}
}

func (e *env) seedSeats(t *testing.T, seatIDs []string, priceMinor int64) {
	t.Helper()
	for _, seatID := range seatIDs {
		seat := models.SeatState{
			PerformanceID: "perf-1",
			SeatID:        seatID,
			TenantID:      "t1",
			State:         models.SeatAvailable,
			PriceMinor:    priceMinor,
			UpdatedAt:     time.Now().UTC(),
		}
		_, err := e.db.NewInsert().Model(&seat).Exec(context.Background())
		require.NoError(t, err)
	}
}

func (e *env) acquireHold(t *testing.T, seatIDs []string, owner string, version int64) string {
	t.Helper()
	res, err := e.holds.Acquire(context.Background(), hold.AcquireParams{
		Tenant: "t1", PerformanceID: "perf-1",
		SeatIDs: seatIDs, Owner: owner, Version: version,
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	return hold.Token{Version: version, Owner: owner}.String()
}

func checkoutInput(key, requestID, token string, seatIDs []string) Input {
	return Input{
		Tenant:         "t1",
		IdempotencyKey: key,
		RequestID:      requestID,
		HoldToken:      token,
		Request: models.CheckoutRequest{
			PerformanceID: "perf-1",
			SeatIDs:       seatIDs,
			CustomerEmail: "alex@example.com",
		},
		RawBody: []byte(`{"performance_id":"perf-1","seat_ids":` + fmt.Sprintf("%q", seatIDs) + `}`),
	}
}

func TestCheckout_HappyPath(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"A1", "A2"}
	e.seedSeats(t, seats, 2500)
	token := e.acquireHold(t, seats, "sess-1", 1)

	out, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.Status)
	require.NotNil(t, out.Response)
	assert.Equal(t, models.OrderPending, out.Response.Status)
	assert.Equal(t, int64(5000), out.Response.TotalMinor, "total is the server-side seat price sum")
	assert.Equal(t, "pi_1", out.Response.PaymentIntentID)
	assert.False(t, out.Response.Replayed)

	// The provider was charged the server-computed amount.
	assert.Equal(t, int64(5000), e.payments.last.AmountMinor)

	order, err := GetOrder(ctx, e.db, "t1", out.Response.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, "pi_1", order.PaymentIntentID)

	var reserved []models.SeatState
	require.NoError(t, e.db.NewSelect().Model(&reserved).Where("state = ?", models.SeatReserved).Scan(ctx))
	assert.Len(t, reserved, 2)
	for _, seat := range reserved {
		assert.Equal(t, order.OrderID, seat.OrderID)
	}
}

func TestCheckout_ReplaySameKey(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"B1"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	first, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.NoError(t, err)

	// Retry with the same key and body: same order, no second intent.
	second, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-2", token, seats))
	require.NoError(t, err)
	assert.Equal(t, first.Response.OrderID, second.Response.OrderID)
	assert.True(t, second.Response.Replayed)
	assert.Equal(t, 1, e.payments.calls)

	count, err := e.db.NewSelect().Model((*models.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckout_KeyReuseDifferentBody(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedSeats(t, []string{"C1", "C2"}, 1000)
	token := e.acquireHold(t, []string{"C1", "C2"}, "sess-1", 1)

	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, []string{"C1"}))
	require.NoError(t, err)

	_, err = e.svc.Checkout(ctx, checkoutInput("abc12345", "req-2", token, []string{"C2"}))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Conflict))
}

func TestCheckout_InProgressDuplicate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"D1"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	in := checkoutInput("abc12345", "req-1", token, seats)

	// Simulate the winner still running by seeding its Begin.
	res, err := e.svc.Idempotency.Begin(ctx, "checkout",
		idempotency.HeaderKey("t1", "abc12345"), "req-0",
		idempotency.BodyHash(in.RawBody), 3*time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.StateNew, res.State)

	out, err := e.svc.Checkout(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, out.Status)
	assert.True(t, out.InProgress)
	assert.Nil(t, out.Response)
	assert.Equal(t, 0, e.payments.calls)
}

func TestCheckout_HoldMismatchFailsBeforeTx(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"E1"}
	e.seedSeats(t, seats, 1000)
	e.acquireHold(t, seats, "sess-1", 1)

	// Wrong owner on the presented token.
	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", "1:sess-2", seats))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Conflict))
	assert.Equal(t, 0, e.payments.calls)

	count, err := e.db.NewSelect().Model((*models.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCheckout_SeatTakenRollsBack(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"F1", "F2"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	// F2 was already reserved by an earlier order despite the hold:
	// the compare-and-set, not the hold, is authoritative.
	_, err := e.db.NewUpdate().
		Model((*models.SeatState)(nil)).
		Set("state = ?", models.SeatReserved).
		Set("order_id = ?", "order-prior").
		Where("seat_id = ?", "F2").
		Exec(ctx)
	require.NoError(t, err)

	_, err = e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Conflict))

	// The whole transaction rolled back: no order row, F1 untouched.
	count, err := e.db.NewSelect().Model((*models.Order)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	var f1 models.SeatState
	require.NoError(t, e.db.NewSelect().Model(&f1).Where("seat_id = ?", "F1").Scan(ctx))
	assert.Equal(t, models.SeatAvailable, f1.State)
}

func TestCheckout_PaymentFailureRollsBackAndReleasesKey(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"G1"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	e.payments.fail = true
	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.System))

	var g1 models.SeatState
	require.NoError(t, e.db.NewSelect().Model(&g1).Where("seat_id = ?", "G1").Scan(ctx))
	assert.Equal(t, models.SeatAvailable, g1.State, "seat reservation must roll back with the intent failure")

	// Release policy: the same key retries immediately once fixed.
	e.payments.fail = false
	out, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-2", token, seats))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.Status)
}

func TestCheckout_ExpirePolicyBlocksRetryUntilTTL(t *testing.T) {
	e := newTestEnv(t)
	e.svc.Config.OnFailure = config.FailureExpire
	ctx := context.Background()
	seats := []string{"H1"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	e.payments.fail = true
	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.Error(t, err)

	// The in-progress marker stays until its TTL.
	e.payments.fail = false
	out, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-2", token, seats))
	require.NoError(t, err)
	assert.True(t, out.InProgress)

	e.mr.FastForward(4 * time.Minute)
	out, err = e.svc.Checkout(ctx, checkoutInput("abc12345", "req-3", token, seats))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.Status)
}

func TestCheckout_UnknownSeatRejected(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedSeats(t, []string{"I1"}, 1000)
	token := e.acquireHold(t, []string{"I1", "I9"}, "sess-1", 1)

	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, []string{"I1", "I9"}))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.Validation))
	assert.Equal(t, 0, e.payments.calls)
}

func TestCheckout_Validation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
		kind apperror.Kind
	}{
		{"missing tenant", Input{IdempotencyKey: "abc12345", RequestID: "r", HoldToken: "1:s", Request: models.CheckoutRequest{PerformanceID: "p", SeatIDs: []string{"A1"}}}, apperror.Validation},
		{"short idempotency key", Input{Tenant: "t1", IdempotencyKey: "short", RequestID: "r", HoldToken: "1:s", Request: models.CheckoutRequest{PerformanceID: "p", SeatIDs: []string{"A1"}}}, apperror.Validation},
		{"missing hold token", Input{Tenant: "t1", IdempotencyKey: "abc12345", RequestID: "r", Request: models.CheckoutRequest{PerformanceID: "p", SeatIDs: []string{"A1"}}}, apperror.Precondition},
		{"missing performance", Input{Tenant: "t1", IdempotencyKey: "abc12345", RequestID: "r", HoldToken: "1:s", Request: models.CheckoutRequest{SeatIDs: []string{"A1"}}}, apperror.Validation},
		{"no seats", Input{Tenant: "t1", IdempotencyKey: "abc12345", RequestID: "r", HoldToken: "1:s", Request: models.CheckoutRequest{PerformanceID: "p"}}, apperror.Validation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Checkout(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, tc.kind))
		})
	}
}

func TestCheckout_StoreOutageFailsClosed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seats := []string{"J1"}
	e.seedSeats(t, seats, 1000)
	token := e.acquireHold(t, seats, "sess-1", 1)

	e.mr.Close()

	_, err := e.svc.Checkout(ctx, checkoutInput("abc12345", "req-1", token, seats))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.System))
	assert.Equal(t, 0, e.payments.calls, "must not run the purchase when dedup cannot be proven")

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status())
}
