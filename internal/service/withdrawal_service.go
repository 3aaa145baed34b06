package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WithdrawalService reserves amount+fee from the balance when a withdrawal is
// requested. Approval settles the reservation, rejection releases it.
type WithdrawalService struct {
	repo     repo.RepositoryInterface
	ledger   *Ledger
	flatFee  decimal.Decimal
	validate *validator.Validate
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewWithdrawalService(r repo.RepositoryInterface, l *Ledger, flatFee decimal.Decimal, logger *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{repo: r, ledger: l, flatFee: flatFee, validate: validator.New(), log: logger, now: time.Now}
}

type CreateWithdrawalInput struct {
	MerchantID string `validate:"required"`
	Amount     decimal.Decimal
	PixKey     string `validate:"required,max=128"`
	Notes      string `validate:"max=512"`
}

func (s *WithdrawalService) Create(ctx context.Context, in CreateWithdrawalInput) (*model.Withdrawal, error) {
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
	if !m.DocumentsVerified() {
		return nil, fmt.Errorf("%w: %s", ErrDocumentsNotVerified, m.ID)
	}

	w := &model.Withdrawal{
		ID:         uuid.NewString(),
		MerchantID: m.ID,
		Amount:     in.Amount,
		FeeAmount:  s.flatFee,
		NetAmount:  in.Amount,
		PixKey:     in.PixKey,
		Notes:      in.Notes,
		Status:     model.WithdrawalPending,
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.Reserve(ctx, tx, m.ID, w.Total(), w.ID); err != nil {
			return err
		}
		if err := s.repo.CreateWithdrawal(ctx, tx, w); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateWithdrawal, w.ID, "WithdrawalRequested", w))
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			s.log.Infow("withdrawal refused", "merchant_id", m.ID, "amount", in.Amount.StringFixed(2), "fee", s.flatFee.StringFixed(2))
		}
		return nil, err
	}
	s.ledger.Invalidate(ctx, m.ID)
	s.log.Infow("withdrawal requested", "withdrawal_id", w.ID, "merchant_id", m.ID, "reserved", w.Total().StringFixed(2))
	return w, nil
}

// Approve confirms a pending withdrawal. The funds were already reserved, so the
// balance does not move; approving twice is a no-op.
func (s *WithdrawalService) Approve(ctx context.Context, id string) (*model.Withdrawal, error) {
	now := s.now()
	return s.transition(ctx, id, model.WithdrawalApproved, "WithdrawalApproved", map[string]interface{}{"processed_at": &now}, nil)
}

// Reject refuses a pending withdrawal and gives amount+fee back.
func (s *WithdrawalService) Reject(ctx context.Context, id, reason string) (*model.Withdrawal, error) {
	now := s.now()
	fields := map[string]interface{}{"processed_at": &now, "rejection_reason": reason}
	w, err := s.transition(ctx, id, model.WithdrawalRejected, "WithdrawalRejected", fields, func(tx *gorm.DB, w *model.Withdrawal) error {
		return s.ledger.Adjust(ctx, tx, w.MerchantID, w.Total(), model.LedgerWithdrawalRelease, w.ID)
	})
	if err == nil {
		s.ledger.Invalidate(ctx, w.MerchantID)
	}
	return w, err
}

func (s *WithdrawalService) transition(ctx context.Context, id, to, eventType string, fields map[string]interface{}, onApply func(*gorm.DB, *model.Withdrawal) error) (*model.Withdrawal, error) {
	var out *model.Withdrawal
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionWithdrawal(ctx, tx, id, model.WithdrawalPending, to, fields)
		if err != nil {
			return err
		}
		w, err := s.repo.GetWithdrawal(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrWithdrawalNotFound, id)
			}
			return err
		}
		out = w
		if !ok {
			if w.Status == to {
				return nil
			}
			return fmt.Errorf("%w: withdrawal %s is %s", ErrInvalidTransition, id, w.Status)
		}
		if onApply != nil {
			if err := onApply(tx, w); err != nil {
				return err
			}
		}
		s.log.Infow("withdrawal processed", "withdrawal_id", id, "merchant_id", w.MerchantID, "status", to)
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateWithdrawal, id, eventType, w))
	})
	return out, err
}

func (s *WithdrawalService) Get(ctx context.Context, id string) (*model.Withdrawal, error) {
	w, err := s.repo.GetWithdrawal(ctx, s.repo.DB(ctx), id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWithdrawalNotFound, id)
	}
	return w, err
}

func (s *WithdrawalService) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByMerchant(ctx, s.repo.DB(ctx), merchantID, clampLimit(limit), offset)
}

func (s *WithdrawalService) ListPending(ctx context.Context) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByStatus(ctx, s.repo.DB(ctx), model.WithdrawalPending)
}
