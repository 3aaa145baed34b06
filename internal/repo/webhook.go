package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"gorm.io/gorm"
)

func (r *Repository) CreateSubscription(ctx context.Context, tx *gorm.DB, s *model.WebhookSubscription) error {
	return tx.WithContext(ctx).Create(s).Error
}

func (r *Repository) GetSubscription(ctx context.Context, tx *gorm.DB, id string) (*model.WebhookSubscription, error) {
	var s model.WebhookSubscription
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *Repository) ListSubscriptions(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.WebhookSubscription, error) {
	var out []model.WebhookSubscription
	err := tx.WithContext(ctx).Where("merchant_id = ?", merchantID).Order("created_at desc").Find(&out).Error
	return out, err
}

func (r *Repository) ListActiveSubscriptions(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.WebhookSubscription, error) {
	var out []model.WebhookSubscription
	err := tx.WithContext(ctx).Where("merchant_id = ? AND is_active = ?", merchantID, true).Find(&out).Error
	return out, err
}

// DeleteSubscription removes a subscription owned by merchantID.
func (r *Repository) DeleteSubscription(ctx context.Context, tx *gorm.DB, merchantID, id string) error {
	res := tx.WithContext(ctx).Where("id = ? AND merchant_id = ?", id, merchantID).Delete(&model.WebhookSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDeliverySuccess resets the failure counter.
func (r *Repository) RecordDeliverySuccess(ctx context.Context, tx *gorm.DB, id string) error {
	now := time.Now()
	return tx.WithContext(ctx).Model(&model.WebhookSubscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{"failure_count": 0, "last_triggered_at": &now, "updated_at": now}).Error
}

// RecordDeliveryFailure increments the failure counter and deactivates the
// subscription once it reaches maxFailures. maxFailures <= 0 never deactivates.
func (r *Repository) RecordDeliveryFailure(ctx context.Context, tx *gorm.DB, id string, maxFailures int) error {
	now := time.Now()
	err := tx.WithContext(ctx).Model(&model.WebhookSubscription{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":     gorm.Expr("failure_count + 1"),
			"last_triggered_at": &now,
			"updated_at":        now,
		}).Error
	if err != nil || maxFailures <= 0 {
		return err
	}
	return tx.WithContext(ctx).Model(&model.WebhookSubscription{}).
		Where("id = ? AND failure_count >= ?", id, maxFailures).
		Update("is_active", false).Error
}
