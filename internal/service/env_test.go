package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	args := m.Called(ctx, req)
	c, _ := args.Get(0).(*gateway.Charge)
	return c, args.Error(1)
}

func (m *mockGateway) GetChargeStatus(ctx context.Context, id string) (*gateway.ChargeStatus, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*gateway.ChargeStatus)
	return s, args.Error(1)
}

func (m *mockGateway) RefundCharge(ctx context.Context, correlationID string, amount decimal.Decimal, reason string) (*gateway.Refund, error) {
	args := m.Called(ctx, correlationID, amount, reason)
	r, _ := args.Get(0).(*gateway.Refund)
	return r, args.Error(1)
}

func (m *mockGateway) ListReceivedPayments(ctx context.Context, start, end time.Time, page int) (*gateway.PaymentPage, error) {
	args := m.Called(ctx, start, end, page)
	p, _ := args.Get(0).(*gateway.PaymentPage)
	return p, args.Error(1)
}

func (m *mockGateway) GetPaymentByEndToEndID(ctx context.Context, e2eID string) (*gateway.Payment, error) {
	args := m.Called(ctx, e2eID)
	p, _ := args.Get(0).(*gateway.Payment)
	return p, args.Error(1)
}

type sentEvent struct {
	MerchantID string
	Event      string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, merchantID, event string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{MerchantID: merchantID, Event: event})
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Event == event {
			c++
		}
	}
	return c
}

type testEnv struct {
	ctx         context.Context
	repo        *repo.Repository
	gw          *mockGateway
	notifier    *recordingNotifier
	ledger      *Ledger
	txs         *TransactionService
	withdrawals *WithdrawalService
	ingest      *IngestService
	reconciler  *Reconciler
	log         *zap.SugaredLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))

	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, nil, &kafka.Writer{}, log)
	gw := &mockGateway{}
	n := &recordingNotifier{}
	l := NewLedger(r, log)
	txs := NewTransactionService(r, l, gw, n, time.Hour, log)

	return &testEnv{
		ctx:         context.Background(),
		repo:        r,
		gw:          gw,
		notifier:    n,
		ledger:      l,
		txs:         txs,
		withdrawals: NewWithdrawalService(r, l, decimal.RequireFromString("6.99"), log),
		ingest:      NewIngestService(r, gw, txs, log),
		reconciler:  NewReconciler(r, gw, txs, ReconcilerConfig{Interval: 2 * time.Minute, ExpiryGrace: 5 * time.Minute}, log),
		log:         log,
	}
}

func (e *testEnv) merchant(t *testing.T, cfg fee.Config, balance string) *model.Merchant {
	t.Helper()
	m := &model.Merchant{
		ID:              "m-" + t.Name(),
		CompanyName:     "Loja Exemplo LTDA",
		TaxID:           t.Name(),
		Email:           "financeiro@loja.test",
		Balance:         decimal.RequireFromString(balance),
		Status:          model.MerchantApproved,
		DocumentsStatus: model.DocumentsApproved,
	}
	m.SetFee(cfg)
	require.NoError(t, e.repo.CreateMerchant(e.ctx, e.repo.DB(e.ctx), m))
	return m
}

func (e *testEnv) balance(t *testing.T, merchantID string) decimal.Decimal {
	t.Helper()
	m, err := e.repo.GetMerchant(e.ctx, e.repo.DB(e.ctx), merchantID)
	require.NoError(t, err)
	// sqlite keeps numeric columns as floats; postgres numeric(20,2) would not need this
	return m.Balance.Round(2)
}

func (e *testEnv) expectCharge(gatewayTxID string) *mock.Call {
	return e.gw.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&gateway.Charge{
			GatewayTxID: gatewayTxID,
			QRCode:      "00020126580014br.gov.bcb.pix",
			PaymentLink: "https://pix.example/" + gatewayTxID,
			ExpiresAt:   time.Now().Add(time.Hour),
		}, nil)
}

// pendingTx creates a transaction through the service with a stubbed charge.
func (e *testEnv) pendingTx(t *testing.T, merchantID, amount string) *model.Transaction {
	t.Helper()
	e.expectCharge("gw-" + amount).Once()
	tx, err := e.txs.Create(e.ctx, CreateTransactionInput{MerchantID: merchantID, Amount: decimal.RequireFromString(amount)})
	require.NoError(t, err)
	return tx
}

func percentage(rate string) fee.Config { return fee.Percentage{Rate: decimal.RequireFromString(rate)} }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
