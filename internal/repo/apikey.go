package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"gorm.io/gorm"
)

func (r *Repository) CreateAPIKey(ctx context.Context, tx *gorm.DB, k *model.APIKey) error {
	return tx.WithContext(ctx).Create(k).Error
}

func (r *Repository) FindAPIKey(ctx context.Context, tx *gorm.DB, apiKey string) (*model.APIKey, error) {
	var k model.APIKey
	if err := tx.WithContext(ctx).Where("api_key = ?", apiKey).First(&k).Error; err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}

func (r *Repository) ListAPIKeys(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.APIKey, error) {
	var out []model.APIKey
	err := tx.WithContext(ctx).Where("merchant_id = ?", merchantID).Order("created_at desc").Find(&out).Error
	return out, err
}

func (r *Repository) RevokeAPIKey(ctx context.Context, tx *gorm.DB, id string) error {
	res := tx.WithContext(ctx).Model(&model.APIKey{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey records the last successful authentication.
func (r *Repository) TouchAPIKey(ctx context.Context, tx *gorm.DB, id string) error {
	return tx.WithContext(ctx).Model(&model.APIKey{}).Where("id = ?", id).Update("last_used_at", time.Now()).Error
}
