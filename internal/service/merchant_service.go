package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MerchantService covers onboarding and the admin review of merchants.
type MerchantService struct {
	repo       repo.RepositoryInterface
	defaultFee fee.Config
	validate   *validator.Validate
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewMerchantService(r repo.RepositoryInterface, defaultFee fee.Config, logger *zap.SugaredLogger) *MerchantService {
	return &MerchantService{repo: r, defaultFee: defaultFee, validate: validator.New(), log: logger, now: time.Now}
}

type RegisterMerchantInput struct {
	CompanyName string `json:"company_name" validate:"required,max=255"`
	TradingName string `json:"trading_name" validate:"max=255"`
	TaxID       string `json:"tax_id" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"max=32"`
}

// Register creates a merchant awaiting approval, on the default fee.
func (s *MerchantService) Register(ctx context.Context, in RegisterMerchantInput) (*model.Merchant, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	taxID := digits(in.TaxID)
	if len(taxID) != 14 && len(taxID) != 11 {
		return nil, fmt.Errorf("%w: tax_id must have 11 or 14 digits", ErrInvalidInput)
	}

	m := &model.Merchant{
		ID:              uuid.NewString(),
		CompanyName:     strings.TrimSpace(in.CompanyName),
		TradingName:     strings.TrimSpace(in.TradingName),
		TaxID:           taxID,
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:           in.Phone,
		Status:          model.MerchantPending,
		DocumentsStatus: model.DocumentsPending,
	}
	m.SetFee(s.defaultFee)

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Merchant{}).Where("tax_id = ?", taxID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: tax_id %s", ErrMerchantExists, taxID)
		}
		if err := s.repo.CreateMerchant(ctx, tx, m); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateMerchant, m.ID, "MerchantRegistered", m))
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("merchant registered", "merchant_id", m.ID, "company_name", m.CompanyName)
	return m, nil
}

func (s *MerchantService) Get(ctx context.Context, id string) (*model.Merchant, error) {
	m, err := s.repo.GetMerchant(ctx, s.repo.DB(ctx), id)
	if err != nil {
		return nil, merchantErr(err, id)
	}
	return m, nil
}

// Approve approves the merchant and its documents together.
func (s *MerchantService) Approve(ctx context.Context, id string) (*model.Merchant, error) {
	now := s.now()
	return s.update(ctx, id, "MerchantApproved", map[string]interface{}{
		"status":                model.MerchantApproved,
		"rejection_reason":      "",
		"documents_status":      model.DocumentsApproved,
		"documents_verified_at": &now,
	})
}

func (s *MerchantService) Reject(ctx context.Context, id, reason string) (*model.Merchant, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.update(ctx, id, "MerchantRejected", map[string]interface{}{
		"status":           model.MerchantRejected,
		"rejection_reason": reason,
	})
}

// UpdateFee replaces the fee configuration; the column of the other fee type is cleared.
func (s *MerchantService) UpdateFee(ctx context.Context, id string, cfg fee.Config) (*model.Merchant, error) {
	if err := fee.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var m model.Merchant
	m.SetFee(cfg)
	return s.update(ctx, id, "MerchantFeeUpdated", map[string]interface{}{
		"fee_type":       m.FeeType,
		"fee_amount":     m.FeeAmount,
		"fee_percentage": m.FeePercentage,
	})
}

// ReviewDocuments records the outcome of the document review.
func (s *MerchantService) ReviewDocuments(ctx context.Context, id, status string) (*model.Merchant, error) {
	fields := map[string]interface{}{"documents_status": status}
	switch status {
	case model.DocumentsApproved:
		now := s.now()
		fields["documents_verified_at"] = &now
	case model.DocumentsRejected, model.DocumentsPending:
		fields["documents_verified_at"] = nil
	default:
		return nil, fmt.Errorf("%w: unknown documents status %q", ErrInvalidInput, status)
	}
	return s.update(ctx, id, "MerchantDocumentsReviewed", fields)
}

func (s *MerchantService) update(ctx context.Context, id, eventType string, fields map[string]interface{}) (*model.Merchant, error) {
	var out *model.Merchant
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateMerchant(ctx, tx, id, fields); err != nil {
			return merchantErr(err, id)
		}
		m, err := s.repo.GetMerchant(ctx, tx, id)
		if err != nil {
			return err
		}
		out = m
		return s.repo.CreateOutboxEvent(ctx, tx, outboxEvent(model.AggregateMerchant, id, eventType, m))
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("merchant updated", "merchant_id", id, "event", eventType)
	return out, nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
