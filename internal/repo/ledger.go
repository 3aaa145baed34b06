package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AdjustBalance adds delta to the balance with a server-side increment.
func (r *Repository) AdjustBalance(ctx context.Context, tx *gorm.DB, merchantID string, delta decimal.Decimal) error {
	res := tx.WithContext(ctx).Model(&model.Merchant{}).
		Where("id = ?", merchantID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveBalance subtracts amount only if the balance covers it.
func (r *Repository) ReserveBalance(ctx context.Context, tx *gorm.DB, merchantID string, amount decimal.Decimal) error {
	res := tx.WithContext(ctx).Model(&model.Merchant{}).
		Where("id = ? AND balance >= ?", merchantID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetMerchant(ctx, tx, merchantID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

// CreateLedgerEntry inserts a journal row.
func (r *Repository) CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// ListLedgerEntries returns the latest journal rows of a merchant.
func (r *Repository) ListLedgerEntries(ctx context.Context, tx *gorm.DB, merchantID string, limit int) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	err := tx.WithContext(ctx).Where("merchant_id = ?", merchantID).
		Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
