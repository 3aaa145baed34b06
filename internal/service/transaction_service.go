package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionService owns the transaction lifecycle:
// pending -> completed | failed, completed -> chargeback.
type TransactionService struct {
	repo      repo.RepositoryInterface
	ledger    *Ledger
	gw        gateway.Client
	notifier  Notifier
	validate  *validator.Validate
	chargeTTL time.Duration
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewTransactionService(r repo.RepositoryInterface, l *Ledger, gw gateway.Client, n Notifier, chargeTTL time.Duration, logger *zap.SugaredLogger) *TransactionService {
	if chargeTTL <= 0 {
		chargeTTL = time.Hour
	}
	return &TransactionService{
		repo: r, ledger: l, gw: gw, notifier: n, validate: validator.New(),
		chargeTTL: chargeTTL, log: logger, now: time.Now,
	}
}

type CreateTransactionInput struct {
	MerchantID  string `validate:"required"`
	Amount      decimal.Decimal
	Description string `validate:"max=140"`
	Reference   string `validate:"omitempty,max=64"`
	Payer       *model.Payer
}

// Settlement is the evidence that a charge was paid.
type Settlement struct {
	EndToEndID string
	PaidAt     time.Time
	Amount     decimal.Decimal
	Payer      *model.Payer
	Source     string
}

// Create issues a charge at the gateway and records it as pending. A repeated
// reference returns the stored transaction without contacting the gateway.
func (s *TransactionService) Create(ctx context.Context, in CreateTransactionInput) (*model.Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validAmount(in.Amount); err != nil {
		return nil, err
	}

	m, err := s.repo.GetMerchant(ctx, s.repo.DB(ctx), in.MerchantID)
	if err != nil {
		return nil, merchantErr(err, in.MerchantID)
	}
	if !m.IsApproved() {
		return nil, fmt.Errorf("%w: %s", ErrMerchantNotApproved, m.ID)
	}
	if in.Reference != "" {
		existing, err := s.repo.FindTransactionByReference(ctx, s.repo.DB(ctx), m.ID, in.Reference)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	cfg, err := m.Fee()
	if err != nil {
		return nil, fmt.Errorf("merchant %s: %w", m.ID, err)
	}
	feeAmt, net, err := fee.Compute(cfg, in.Amount)
	if err != nil {
		return nil, fmt.Errorf("merchant %s amount %s: %w", m.ID, in.Amount.StringFixed(2), err)
	}

	correlationID := strings.ReplaceAll(uuid.NewString(), "-", "")
	charge, err := s.gw.CreateCharge(ctx, gateway.ChargeRequest{
		Amount:        in.Amount,
		CorrelationID: correlationID,
		Description:   in.Description,
		Expiry:        s.chargeTTL,
	})
	if err != nil {
		s.log.Errorw("gateway charge creation failed",
			"merchant_id", m.ID, "correlation_id", correlationID, "amount", in.Amount.StringFixed(2), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	now := s.now()
	pix, _ := json.Marshal(model.PixData{
		QRCode: charge.QRCode, QRCodeImage: charge.QRCodeImage, PaymentLink: charge.PaymentLink, ExpiresAt: charge.ExpiresAt,
	})
	t := &model.Transaction{
		ID:            uuid.NewString(),
		MerchantID:    m.ID,
		CorrelationID: correlationID,
		GatewayTxID:   charge.GatewayTxID,
		Amount:        in.Amount,
		FeeAmount:     feeAmt,
		NetAmount:     net,
		Status:        model.TxPending,
		Description:   in.Description,
		PixData:       datatypes.JSON(pix),
		ExpiresAt:     now.Add(s.chargeTTL),
	}
	if in.Reference != "" {
		ref := in.Reference
		t.Reference = &ref
	}
	if in.Payer != nil {
		b, _ := json.Marshal(in.Payer)
		t.CustomerInfo = datatypes.JSON(b)
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateTransaction, t.ID, "TransactionCreated", t))
	})
	if err != nil {
		// a concurrent request with the same reference won the insert
		if t.Reference != nil {
			if existing, ferr := s.repo.FindTransactionByReference(ctx, s.repo.DB(ctx), m.ID, *t.Reference); ferr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Infow("transaction created", "transaction_id", t.ID, "merchant_id", m.ID,
		"amount", t.Amount.StringFixed(2), "fee", t.FeeAmount.StringFixed(2), "net", t.NetAmount.StringFixed(2))
	s.notifier.Notify(ctx, m.ID, model.EventPaymentCreated, t)
	return t, nil
}

// Complete settles a pending transaction and credits its net amount. It reports
// whether this call applied the transition; an already completed transaction is
// a successful no-op.
func (s *TransactionService) Complete(ctx context.Context, id string, st Settlement) (bool, *model.Transaction, error) {
	paidAt := st.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	fields := map[string]interface{}{"paid_at": &paidAt}
	if st.EndToEndID != "" {
		e2e := st.EndToEndID
		fields["end_to_end_id"] = &e2e
	}
	if st.Payer != nil {
		b, _ := json.Marshal(st.Payer)
		fields["payer_info"] = datatypes.JSON(b)
	}

	var (
		applied bool
		out     *model.Transaction
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionTransaction(ctx, tx, id, model.TxPending, model.TxCompleted, fields)
		if err != nil {
			return err
		}
		cur, err := s.repo.GetTransaction(ctx, tx, id)
		if err != nil {
			return txErr(err, id)
		}
		out = cur
		if !ok {
			if cur.Status == model.TxCompleted {
				return nil
			}
			return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransition, id, cur.Status)
		}
		applied = true
		if err := s.ledger.Adjust(ctx, tx, cur.MerchantID, cur.NetAmount, model.LedgerTransactionCredit, cur.ID); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateTransaction, cur.ID, "TransactionCompleted", cur))
	})
	if err != nil {
		return false, nil, err
	}
	if !applied {
		s.log.Infow("settlement already applied", "transaction_id", id, "source", st.Source)
		return false, out, nil
	}

	if !st.Amount.IsZero() && !st.Amount.Equal(out.Amount) {
		s.log.Warnw("settled amount differs from charge",
			"transaction_id", id, "charged", out.Amount.StringFixed(2), "paid", st.Amount.StringFixed(2))
	}
	s.ledger.Invalidate(ctx, out.MerchantID)
	s.log.Infow("transaction completed", "transaction_id", id, "merchant_id", out.MerchantID,
		"net", out.NetAmount.StringFixed(2), "end_to_end_id", st.EndToEndID, "source", st.Source)
	s.notifier.Notify(ctx, out.MerchantID, model.EventPaymentSuccess, out)
	return true, out, nil
}

// Fail marks a pending transaction failed. An already failed one is a no-op.
func (s *TransactionService) Fail(ctx context.Context, id, reason string) (bool, *model.Transaction, error) {
	var (
		applied bool
		out     *model.Transaction
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionTransaction(ctx, tx, id, model.TxPending, model.TxFailed,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return err
		}
		cur, err := s.repo.GetTransaction(ctx, tx, id)
		if err != nil {
			return txErr(err, id)
		}
		out = cur
		if !ok {
			if cur.Status == model.TxFailed {
				return nil
			}
			return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransition, id, cur.Status)
		}
		applied = true
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateTransaction, cur.ID, "TransactionFailed", cur))
	})
	if err != nil {
		return false, nil, err
	}
	if applied {
		s.log.Infow("transaction failed", "transaction_id", id, "merchant_id", out.MerchantID, "reason", reason)
		s.notifier.Notify(ctx, out.MerchantID, model.EventPaymentFailed, out)
	}
	return applied, out, nil
}

// Chargeback refunds the payer through the gateway and takes the credited net
// amount back from the merchant. The balance may go negative. The refund is
// claimed on the row first, so a concurrent or retried call never refunds twice;
// a claim left behind by a failed write needs an operator.
func (s *TransactionService) Chargeback(ctx context.Context, id, reason string) (*model.Transaction, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case model.TxChargeback:
		return cur, nil
	case model.TxCompleted:
	default:
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransition, id, cur.Status)
	}

	claimed, err := s.repo.ClaimRefund(ctx, s.repo.DB(ctx), id, s.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		if cur, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
		if cur.Status == model.TxChargeback {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: refund already requested for transaction %s", ErrInvalidTransition, id)
	}

	refund, err := s.gw.RefundCharge(ctx, cur.CorrelationID, cur.Amount, reason)
	if err != nil {
		s.log.Errorw("gateway refund failed", "transaction_id", id, "amount", cur.Amount.StringFixed(2), "error", err)
		bg := context.WithoutCancel(ctx)
		if rerr := s.repo.ReleaseRefundClaim(bg, s.repo.DB(bg), id); rerr != nil {
			s.log.Errorw("release refund claim", "transaction_id", id, "error", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	var applied bool
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionTransaction(ctx, tx, id, model.TxCompleted, model.TxChargeback,
			map[string]interface{}{"refund_id": refund.RefundID, "failure_reason": reason})
		if err != nil {
			return err
		}
		if cur, err = s.repo.GetTransaction(ctx, tx, id); err != nil {
			return txErr(err, id)
		}
		if !ok {
			if cur.Status == model.TxChargeback {
				return nil
			}
			return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransition, id, cur.Status)
		}
		applied = true
		if err := s.ledger.Adjust(ctx, tx, cur.MerchantID, cur.NetAmount.Neg(), model.LedgerChargebackDebit, cur.ID); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateTransaction, cur.ID, "TransactionChargeback", cur))
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.ledger.Invalidate(ctx, cur.MerchantID)
		s.log.Infow("transaction charged back", "transaction_id", id, "merchant_id", cur.MerchantID,
			"refund_id", refund.RefundID, "debited", cur.NetAmount.StringFixed(2))
		s.notifier.Notify(ctx, cur.MerchantID, model.EventPaymentChargeback, cur)
	}
	return cur, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (*model.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, s.repo.DB(ctx), id)
	if err != nil {
		return nil, txErr(err, id)
	}
	return t, nil
}

// GetForMerchant hides transactions of other merchants behind not found.
func (s *TransactionService) GetForMerchant(ctx context.Context, merchantID, id string) (*model.Transaction, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return t, nil
}

func (s *TransactionService) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]model.Transaction, error) {
	return s.repo.ListTransactionsByMerchant(ctx, s.repo.DB(ctx), merchantID, clampLimit(limit), offset)
}

// ListChargebacks returns charged back transactions created within [from, to].
func (s *TransactionService) ListChargebacks(ctx context.Context, from, to *time.Time) ([]model.Transaction, error) {
	return s.repo.ListTransactionsByStatus(ctx, s.repo.DB(ctx), model.TxChargeback, from, to)
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than two decimal places", ErrInvalidInput)
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	}
	return limit
}

func merchantErr(err error, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMerchantNotFound, id)
	}
	return err
}

func txErr(err error, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return err
}
