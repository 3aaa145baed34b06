package service

import (
	"testing"

	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawal_InsufficientBalanceLeavesBalance(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "500.00")

	_, err := e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("1000.00"), PixKey: "loja@pix.test"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, dec("500").Equal(e.balance(t, m.ID)))

	// amount alone fits but amount plus fee does not
	_, err = e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("495.00"), PixKey: "loja@pix.test"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	pending, err := e.withdrawals.ListPending(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWithdrawal_ReserveThenApprove(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "500.00")

	w, err := e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("100.00"), PixKey: "loja@pix.test", Notes: "semanal"})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPending, w.Status)
	assert.Equal(t, "6.99", w.FeeAmount.StringFixed(2))
	assert.True(t, dec("393.01").Equal(e.balance(t, m.ID)))

	approved, err := e.withdrawals.Approve(e.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalApproved, approved.Status)
	assert.NotNil(t, approved.ProcessedAt)

	_, err = e.withdrawals.Approve(e.ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, dec("393.01").Equal(e.balance(t, m.ID)))

	_, err = e.withdrawals.Reject(e.ctx, w.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, dec("393.01").Equal(e.balance(t, m.ID)))
}

func TestWithdrawal_RejectReleasesReservation(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "200.00")

	w, err := e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("150.00"), PixKey: "11999990000"})
	require.NoError(t, err)
	assert.True(t, dec("43.01").Equal(e.balance(t, m.ID)))

	rejected, err := e.withdrawals.Reject(e.ctx, w.ID, "chave pix invalida")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "chave pix invalida", rejected.RejectionReason)
	assert.True(t, dec("200").Equal(e.balance(t, m.ID)))

	// a second reject must not release twice
	_, err = e.withdrawals.Reject(e.ctx, w.ID, "again")
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(e.balance(t, m.ID)))

	entries, err := e.repo.ListLedgerEntries(e.ctx, e.repo.DB(e.ctx), m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWithdrawal_Preconditions(t *testing.T) {
	e := newTestEnv(t)
	m := e.merchant(t, fee.Fixed{Cents: 0}, "500.00")
	require.NoError(t, e.repo.UpdateMerchant(e.ctx, e.repo.DB(e.ctx), m.ID, map[string]interface{}{"documents_status": model.DocumentsPending}))

	_, err := e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("10.00"), PixKey: "k"})
	assert.ErrorIs(t, err, ErrDocumentsNotVerified)

	_, err = e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("-1"), PixKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: m.ID, Amount: dec("10.00")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.withdrawals.Create(e.ctx, CreateWithdrawalInput{MerchantID: "missing", Amount: dec("10.00"), PixKey: "k"})
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	_, err = e.withdrawals.Approve(e.ctx, "missing")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}
