package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) expire(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.repo.DB(e.ctx).Model(&model.Transaction{}).Where("id = ?", id).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)
}

func TestTick_CompletesFromReceivedPayments(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 100}, "0")
	tx := e.pendingTx(t, m.ID, "20.00")

	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 0).Return(&gateway.PaymentPage{
		Payments: []gateway.Payment{
			{CorrelationID: tx.CorrelationID, EndToEndID: "E-POLL", Amount: dec("20.00"), Timestamp: time.Now()},
			{GatewayTxID: "someone-else", EndToEndID: "E-STRAY", Amount: dec("999.99")},
		},
		Page: 0, TotalPages: 1,
	}, nil).Once()

	rep := e.reconciler.Tick(e.ctx)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, 1, rep.Unmatched)
	assert.Zero(t, rep.Errors)
	assert.True(t, dec("19.00").Equal(e.balance(t, m.ID)))

	got, err := e.txs.Get(e.ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndToEndID)
	assert.Equal(t, "E-POLL", *got.EndToEndID)

	// nothing pending: the gateway is not asked again
	rep = e.reconciler.Tick(e.ctx)
	assert.Zero(t, rep.Pending)
	e.gw.AssertExpectations(t)
}

func TestTick_PagesUntilExhausted(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "0")
	a := e.pendingTx(t, m.ID, "1.00")
	b := e.pendingTx(t, m.ID, "2.00")

	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 0).Return(&gateway.PaymentPage{
		Payments: []gateway.Payment{{GatewayTxID: a.GatewayTxID, Amount: dec("1.00")}}, Page: 0, TotalPages: 2,
	}, nil).Once()
	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 1).Return(&gateway.PaymentPage{
		Payments: []gateway.Payment{{GatewayTxID: b.GatewayTxID, Amount: dec("2.00")}}, Page: 1, TotalPages: 2,
	}, nil).Once()

	rep := e.reconciler.Tick(e.ctx)
	assert.Equal(t, 2, rep.Completed)
	assert.True(t, dec("3.00").Equal(e.balance(t, m.ID)))
	e.gw.AssertExpectations(t)
}

func TestTick_GatewayErrorKeepsWatermark(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "0")
	e.pendingTx(t, m.ID, "5.00")

	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 0).
		Return(nil, errors.New("503 service unavailable")).Once()

	rep := e.reconciler.Tick(e.ctx)
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, rep.Completed)
	assert.True(t, e.balance(t, m.ID).IsZero())
}

func TestTick_ExpiresStaleCharges(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "0")
	paid := e.pendingTx(t, m.ID, "10.00")
	cancelled := e.pendingTx(t, m.ID, "11.00")
	unknown := e.pendingTx(t, m.ID, "12.00")
	for _, id := range []string{paid.ID, cancelled.ID, unknown.ID} {
		e.expire(t, id)
	}

	paidAt := time.Now().Add(-90 * time.Minute)
	e.gw.On("GetChargeStatus", mock.Anything, paid.GatewayTxID).Return(&gateway.ChargeStatus{
		Status: gateway.StatusCompleted, PaidAmount: dec("10.00"), PaidAt: &paidAt, EndToEndID: "E-LATE",
	}, nil).Once()
	e.gw.On("GetChargeStatus", mock.Anything, cancelled.GatewayTxID).Return(&gateway.ChargeStatus{Status: gateway.StatusCancelled}, nil).Once()
	e.gw.On("GetChargeStatus", mock.Anything, unknown.GatewayTxID).Return(nil, errors.New("connection reset")).Once()

	rep := e.reconciler.Tick(e.ctx)
	assert.Zero(t, rep.Pending)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Errors)

	got, err := e.txs.Get(e.ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, got.Status)
	got, err = e.txs.Get(e.ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, got.Status)
	assert.Equal(t, "charge cancelled at gateway", got.FailureReason)
	got, err = e.txs.Get(e.ctx, unknown.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, got.Status)

	assert.True(t, dec("10.00").Equal(e.balance(t, m.ID)))
	assert.Equal(t, 1, e.notifier.count(model.EventPaymentFailed))
	e.gw.AssertExpectations(t)
}

func TestTick_AmountMatchIgnoresExpiredCharge(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "0")
	stale := e.pendingTx(t, m.ID, "10.00")
	live := e.pendingTx(t, m.ID, "10.00")
	// expired, but still inside the grace window so the sweep leaves it alone
	require.NoError(t, e.repo.DB(e.ctx).Model(&model.Transaction{}).Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 0).Return(&gateway.PaymentPage{
		Payments: []gateway.Payment{{EndToEndID: "E-AMOUNT-ONLY", Amount: dec("10.00"), Timestamp: time.Now()}},
		Page:     0, TotalPages: 1,
	}, nil).Once()

	rep := e.reconciler.Tick(e.ctx)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, 1, rep.Completed)
	assert.Zero(t, rep.Expired)

	got, err := e.txs.Get(e.ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, got.Status)
	got, err = e.txs.Get(e.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, got.Status)
	e.gw.AssertExpectations(t)
}

// lockedReconciler shares the env database but keeps the lock and watermark in a
// mocked Redis.
func (e *testEnv) lockedReconciler(t *testing.T) (*Reconciler, redismock.ClientMock) {
	t.Helper()
	rdb, rmock := redismock.NewClientMock()
	r := repo.NewRepository(e.repo.DB(e.ctx), rdb, &kafka.Writer{}, e.log)
	rec := NewReconciler(r, e.gw, e.txs, ReconcilerConfig{Interval: 2 * time.Minute, ExpiryGrace: 5 * time.Minute}, e.log)
	rec.newToken = func() (string, error) { return "replica-a", nil }
	return rec, rmock
}

func TestTickExclusive_SkipsWhenLockHeld(t *testing.T) {
	e := newTestEnv(t)
	rec, rmock := e.lockedReconciler(t)
	rmock.ExpectSetNX(lockKey, "replica-a", time.Minute).SetVal(false)

	_, ran := rec.TickExclusive(e.ctx, time.Minute)
	assert.False(t, ran)
	assert.NoError(t, rmock.ExpectationsWereMet())
	e.gw.AssertNotCalled(t, "ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTickExclusive_StopsBeforeLockExpires(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "0")
	e.pendingTx(t, m.ID, "7.00")
	rec, rmock := e.lockedReconciler(t)

	ttl := 200 * time.Millisecond
	rmock.ExpectSetNX(lockKey, "replica-a", ttl).SetVal(true)
	rmock.ExpectGet(watermarkKey).RedisNil()
	rmock.ExpectEvalSha(repo.ReleaseLockScript.Hash(), []string{lockKey}, "replica-a").SetVal(int64(1))

	// a gateway that hangs until the caller gives up
	e.gw.On("ListReceivedPayments", mock.Anything, mock.Anything, mock.Anything, 0).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded).Once()

	start := time.Now()
	rep, ran := rec.TickExclusive(e.ctx, ttl)
	assert.True(t, ran)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, rep.Pending)
	assert.Zero(t, rep.Completed)
	assert.NotZero(t, rep.Errors)
	assert.NoError(t, rmock.ExpectationsWereMet())
}
