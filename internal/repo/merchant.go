package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"gorm.io/gorm"
)

// CreateMerchant inserts record.
func (r *Repository) CreateMerchant(ctx context.Context, tx *gorm.DB, m *model.Merchant) error {
	return tx.WithContext(ctx).Create(m).Error
}

// GetMerchant loads a merchant by id.
func (r *Repository) GetMerchant(ctx context.Context, tx *gorm.DB, id string) (*model.Merchant, error) {
	var m model.Merchant
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// UpdateMerchant applies column updates. The balance column is never accepted here;
// it only moves through AdjustBalance and ReserveBalance.
func (r *Repository) UpdateMerchant(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	delete(updates, "balance")
	updates["updated_at"] = time.Now()
	res := tx.WithContext(ctx).Model(&model.Merchant{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
