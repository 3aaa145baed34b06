package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreate_FeeModes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     fee.Config
		wantFee string
		wantNet string
	}{
		{"percentage 2.99", percentage("2.99"), "2.99", "97.01"},
		{"fixed 50 cents", fee.Fixed{Cents: 50}, "0.50", "99.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			m := e.merchant(t, tt.cfg, "0")
			e.expectCharge("gw-1").Once()

			tx, err := e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("100.00"), Description: "pedido 42"})
			require.NoError(t, err)

			assert.Equal(t, model.TxPending, tx.Status)
			assert.Equal(t, tt.wantFee, tx.FeeAmount.StringFixed(2))
			assert.Equal(t, tt.wantNet, tx.NetAmount.StringFixed(2))
			assert.Len(t, tx.CorrelationID, 32)
			assert.Equal(t, "gw-1", tx.GatewayTxID)
			assert.NotEmpty(t, tx.PixData)
			assert.WithinDuration(t, time.Now().Add(time.Hour), tx.ExpiresAt, time.Minute)

			// nothing is credited while pending
			assert.True(t, e.balance(t, m.ID).IsZero())
			assert.Equal(t, 1, e.notifier.count(model.EventPaymentCreated))
			e.gw.AssertExpectations(t)
		})
	}
}

func TestCreate_GatewayTimeoutPersistsNothing(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("2.99"), "0")
	e.gw.On("CreateCharge", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("post /cob: %w", context.DeadlineExceeded))

	_, err := e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("100.00")})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	var count int64
	require.NoError(t, e.repo.DB(e.ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, e.notifier.count(model.EventPaymentCreated))
}

func TestCreate_ReferenceIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("1"), "0")
	e.expectCharge("gw-1").Once()

	in := CreateTransactionInput{MerchantID: m.ID, Amount: dec("10.00"), Reference: "order-7"}
	first, err := e.txs.Create(e.ctx, in)
	require.NoError(t, err)
	second, err := e.txs.Create(e.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	e.gw.AssertNumberOfCalls(t, "CreateCharge", 1)
}

func TestCreate_Rejections(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 150}, "0")

	_, err := e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("1.00")})
	assert.ErrorIs(t, err, fee.ErrFeeExceedsAmount)

	_, err = e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("-5")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("1.001")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: "nobody", Amount: dec("10")})
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	require.NoError(t, e.repo.UpdateMerchant(e.ctx, e.repo.DB(e.ctx), m.ID, map[string]interface{}{"status": model.MerchantPending}))
	_, err = e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: m.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, ErrMerchantNotApproved)

	e.gw.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestCreate_DeclaredPayerStaysOutOfPayerInfo(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("0"), "0")
	e.expectCharge("gw-declared").Once()

	tx, err := e.txs.Create(e.ctx, CreateTransactionInput{
		MerchantID: m.ID, Amount: dec("15.00"),
		Payer: &model.Payer{Name: "Cliente Informado", TaxID: "11122233344"},
	})
	require.NoError(t, err)

	got, err := e.txs.Get(e.ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PayerInfo, "payer_info is only filled at settlement")
	assert.Contains(t, string(got.CustomerInfo), "Cliente Informado")

	_, _, err = e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E-DECL", Payer: &model.Payer{Name: "Pagador Real", Bank: "00000000"}})
	require.NoError(t, err)
	got, err = e.txs.Get(e.ctx, tx.ID)
	require.NoError(t, err)
	assert.Contains(t, string(got.PayerInfo), "Pagador Real")
	assert.NotContains(t, string(got.PayerInfo), "Cliente Informado")
	assert.Contains(t, string(got.CustomerInfo), "Cliente Informado")
}

func TestComplete_CreditsOnce(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("2.99"), "0")
	tx := e.pendingTx(t, m.ID, "100.00")

	applied, got, err := e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E0001", Source: "test"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.TxCompleted, got.Status)
	require.NotNil(t, got.EndToEndID)
	assert.Equal(t, "E0001", *got.EndToEndID)
	require.NotNil(t, got.PaidAt)

	applied, got, err = e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E0001", Source: "test"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.TxCompleted, got.Status)

	assert.True(t, dec("97.01").Equal(e.balance(t, m.ID)), "balance %s", e.balance(t, m.ID))
	assert.Equal(t, 1, e.notifier.count(model.EventPaymentSuccess))

	entries, err := e.repo.ListLedgerEntries(e.ctx, e.repo.DB(e.ctx), m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestComplete_ConcurrentCallersCreditOnce(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 50}, "0")
	tx := e.pendingTx(t, m.ID, "100.00")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E-RACE"})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.True(t, dec("99.50").Equal(e.balance(t, m.ID)))
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("1"), "0")

	failed := e.pendingTx(t, m.ID, "10.00")
	applied, _, err := e.txs.Fail(e.ctx, failed.ID, "expired")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, _, err = e.txs.Fail(e.ctx, failed.ID, "expired")
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = e.txs.Complete(e.ctx, failed.ID, Settlement{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	completed := e.pendingTx(t, m.ID, "20.00")
	_, _, err = e.txs.Complete(e.ctx, completed.ID, Settlement{})
	require.NoError(t, err)
	_, _, err = e.txs.Fail(e.ctx, completed.ID, "late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := e.txs.Get(e.ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, got.Status)
	assert.Equal(t, "expired", got.FailureReason)
	assert.True(t, dec("19.80").Equal(e.balance(t, m.ID)))

	_, _, err = e.txs.Complete(e.ctx, "missing", Settlement{})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestChargeback(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("2.99"), "0")
	tx := e.pendingTx(t, m.ID, "100.00")

	_, err := e.txs.Chargeback(e.ctx, tx.ID, "fraud")
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending cannot be charged back")

	_, _, err = e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E-CB"})
	require.NoError(t, err)

	e.gw.On("RefundCharge", mock.Anything, tx.CorrelationID, mock.MatchedBy(func(a decimal.Decimal) bool {
		return a.StringFixed(2) == "100.00"
	}), "fraud").Return(&gateway.Refund{RefundID: "dev-1", Status: "EM_PROCESSAMENTO"}, nil).Once()

	got, err := e.txs.Chargeback(e.ctx, tx.ID, "fraud")
	require.NoError(t, err)
	assert.Equal(t, model.TxChargeback, got.Status)
	assert.Equal(t, "dev-1", got.RefundID)
	assert.True(t, e.balance(t, m.ID).IsZero(), "net amount is taken back")
	assert.Equal(t, 1, e.notifier.count(model.EventPaymentChargeback))

	_, _, err = e.txs.Complete(e.ctx, tx.ID, Settlement{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// repeated chargeback neither refunds nor debits again
	_, err = e.txs.Chargeback(e.ctx, tx.ID, "fraud")
	require.NoError(t, err)
	e.gw.AssertNumberOfCalls(t, "RefundCharge", 1)
	assert.True(t, e.balance(t, m.ID).IsZero())

	list, err := e.txs.ListChargebacks(e.ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestChargeback_RefundFailureChangesNothing(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("0"), "0")
	tx := e.pendingTx(t, m.ID, "40.00")
	_, _, err := e.txs.Complete(e.ctx, tx.ID, Settlement{})
	require.NoError(t, err)

	e.gw.On("RefundCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &gateway.APIError{StatusCode: 502})

	_, err = e.txs.Chargeback(e.ctx, tx.ID, "customer dispute")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	got, err := e.txs.Get(e.ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCompleted, got.Status)
	assert.Nil(t, got.RefundRequestedAt, "a rejected refund can be retried")
	assert.True(t, dec("40").Equal(e.balance(t, m.ID)))
}

func TestChargeback_ConcurrentCallersRefundOnce(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("0"), "0")
	tx := e.pendingTx(t, m.ID, "60.00")
	_, _, err := e.txs.Complete(e.ctx, tx.ID, Settlement{EndToEndID: "E-CC"})
	require.NoError(t, err)

	e.gw.On("RefundCharge", mock.Anything, tx.CorrelationID, mock.Anything, "duplicate").
		Return(&gateway.Refund{RefundID: "dev-cc"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.txs.Chargeback(e.ctx, tx.ID, "duplicate")
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	e.gw.AssertNumberOfCalls(t, "RefundCharge", 1)
	got, err := e.txs.Get(e.ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxChargeback, got.Status)
	assert.True(t, e.balance(t, m.ID).IsZero())
	assert.Equal(t, 1, e.notifier.count(model.EventPaymentChargeback))
}

func TestChargeback_OutstandingClaimBlocksSecondRefund(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("0"), "0")
	tx := e.pendingTx(t, m.ID, "20.00")
	_, _, err := e.txs.Complete(e.ctx, tx.ID, Settlement{})
	require.NoError(t, err)

	// a refund went out but its status write never landed
	claimed, err := e.repo.ClaimRefund(e.ctx, e.repo.DB(e.ctx), tx.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = e.txs.Chargeback(e.ctx, tx.ID, "retry")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	e.gw.AssertNotCalled(t, "RefundCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, dec("20").Equal(e.balance(t, m.ID)))
}

func TestNegativeBalanceAfterChargeback(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("0"), "0")
	tx := e.pendingTx(t, m.ID, "30.00")
	_, _, err := e.txs.Complete(e.ctx, tx.ID, Settlement{})
	require.NoError(t, err)

	e.gw.On("RefundCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.Refund{RefundID: "dev-2"}, nil)
	require.NoError(t, e.ledger.Adjust(e.ctx, e.repo.DB(e.ctx), m.ID, dec("-25"), model.LedgerWithdrawalReserve, "w-x"))

	_, err = e.txs.Chargeback(e.ctx, tx.ID, "")
	require.NoError(t, err)
	assert.True(t, dec("-25").Equal(e.balance(t, m.ID)))
}

func TestGetForMerchant_HidesOtherMerchants(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, percentage("1"), "0")
	tx := e.pendingTx(t, m.ID, "10.00")

	_, err := e.txs.GetForMerchant(e.ctx, "someone-else", tx.ID)
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	list, err := e.txs.ListByMerchant(e.ctx, m.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
