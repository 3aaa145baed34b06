package repo

import (
	"context"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

func (r *Repository) findTransaction(ctx context.Context, tx *gorm.DB, query string, args ...interface{}) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).Where(query, args...).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// GetTransaction loads by primary id.
func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	return r.findTransaction(ctx, tx, "id = ?", id)
}

// FindTransactionByCorrelationID loads by the id sent to the gateway.
func (r *Repository) FindTransactionByCorrelationID(ctx context.Context, tx *gorm.DB, correlationID string) (*model.Transaction, error) {
	return r.findTransaction(ctx, tx, "correlation_id = ?", correlationID)
}

// FindTransactionByGatewayTxID loads by the id assigned by the gateway.
func (r *Repository) FindTransactionByGatewayTxID(ctx context.Context, tx *gorm.DB, gatewayTxID string) (*model.Transaction, error) {
	return r.findTransaction(ctx, tx, "gateway_tx_id = ?", gatewayTxID)
}

// FindTransactionByEndToEndID loads a settled transaction.
func (r *Repository) FindTransactionByEndToEndID(ctx context.Context, tx *gorm.DB, e2eID string) (*model.Transaction, error) {
	return r.findTransaction(ctx, tx, "end_to_end_id = ?", e2eID)
}

// FindTransactionByReference checks duplicate by merchant idempotency reference.
func (r *Repository) FindTransactionByReference(ctx context.Context, tx *gorm.DB, merchantID, reference string) (*model.Transaction, error) {
	return r.findTransaction(ctx, tx, "merchant_id = ? AND reference = ?", merchantID, reference)
}

// FindPendingByAmount returns the oldest unsettled pending transaction of that amount
// whose charge is still live at now. Expired charges belong to the expiry sweep.
func (r *Repository) FindPendingByAmount(ctx context.Context, tx *gorm.DB, amount decimal.Decimal, now time.Time) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.WithContext(ctx).
		Where("status = ? AND amount = ? AND end_to_end_id IS NULL AND expires_at > ?", model.TxPending, amount, now).
		Order("created_at asc").First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListPendingTransactions returns pending transactions that expire after the given instant.
func (r *Repository) ListPendingTransactions(ctx context.Context, tx *gorm.DB, expiringAfter time.Time) ([]model.Transaction, error) {
	var out []model.Transaction
	err := tx.WithContext(ctx).
		Where("status = ? AND expires_at > ?", model.TxPending, expiringAfter).
		Order("created_at asc").Find(&out).Error
	return out, err
}

// ListExpiredPending returns pending transactions whose charge expired before the given instant.
func (r *Repository) ListExpiredPending(ctx context.Context, tx *gorm.DB, expiredBefore time.Time, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	err := tx.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.TxPending, expiredBefore).
		Order("expires_at asc").Limit(limit).Find(&out).Error
	return out, err
}

// ListTransactionsByMerchant pages newest first.
func (r *Repository) ListTransactionsByMerchant(ctx context.Context, tx *gorm.DB, merchantID string, limit, offset int) ([]model.Transaction, error) {
	var out []model.Transaction
	err := tx.WithContext(ctx).Where("merchant_id = ?", merchantID).
		Order("created_at desc").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// ListTransactionsByStatus filters by status and optional creation window.
func (r *Repository) ListTransactionsByStatus(ctx context.Context, tx *gorm.DB, status string, from, to *time.Time) ([]model.Transaction, error) {
	q := tx.WithContext(ctx).Where("status = ?", status)
	if from != nil {
		q = q.Where("created_at >= ?", *from)
	}
	if to != nil {
		q = q.Where("created_at <= ?", *to)
	}
	var out []model.Transaction
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// TransitionTransaction moves status from -> to only if the row is still in from.
// It reports whether this call performed the transition.
func (r *Repository) TransitionTransaction(ctx context.Context, tx *gorm.DB, id, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimRefund marks a completed transaction as having a refund in flight. Only
// one caller can hold the claim.
func (r *Repository) ClaimRefund(ctx context.Context, tx *gorm.DB, id string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ? AND refund_requested_at IS NULL", id, model.TxCompleted).
		Updates(map[string]interface{}{"refund_requested_at": at, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseRefundClaim drops the claim of a transaction that is still completed.
func (r *Repository) ReleaseRefundClaim(ctx context.Context, tx *gorm.DB, id string) error {
	return tx.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxCompleted).
		Updates(map[string]interface{}{"refund_requested_at": nil, "updated_at": time.Now()}).Error
}
