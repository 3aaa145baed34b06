package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

type Withdrawal struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	MerchantID      string          `gorm:"size:36;not null;index" json:"merchant_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	FeeAmount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"fee_amount"`
	NetAmount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"net_amount"`
	PixKey          string          `gorm:"size:128;not null" json:"pix_key"`
	Notes           string          `gorm:"size:512" json:"notes,omitempty"`
	Status          string          `gorm:"size:16;not null;index" json:"status"`
	RejectionReason string          `gorm:"size:512" json:"rejection_reason,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// Total is what the merchant balance pays for this withdrawal.
func (w *Withdrawal) Total() decimal.Decimal { return w.Amount.Add(w.FeeAmount) }
