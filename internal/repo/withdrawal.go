package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"gorm.io/gorm"
)

// CreateWithdrawal inserts record.
func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return tx.WithContext(ctx).Create(w).Error
}

func (r *Repository) GetWithdrawal(ctx context.Context, tx *gorm.DB, id string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *Repository) ListWithdrawalsByMerchant(ctx context.Context, tx *gorm.DB, merchantID string, limit, offset int) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	err := tx.WithContext(ctx).Where("merchant_id = ?", merchantID).
		Order("created_at desc").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// ListWithdrawalsByStatus returns oldest first, the order admins work the queue in.
func (r *Repository) ListWithdrawalsByStatus(ctx context.Context, tx *gorm.DB, status string) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	err := tx.WithContext(ctx).Where("status = ?", status).Order("created_at asc").Find(&out).Error
	return out, err
}

// TransitionWithdrawal is the withdrawal counterpart of TransitionTransaction.
func (r *Repository) TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
