package model

import (
	"time"

	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/shopspring/decimal"
)

const (
	MerchantPending  = "pending"
	MerchantApproved = "approved"
	MerchantRejected = "rejected"
)

const (
	DocumentsPending  = "pending"
	DocumentsApproved = "approved"
	DocumentsRejected = "rejected"
)

type Merchant struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	CompanyName         string           `gorm:"size:255;not null" json:"company_name"`
	TradingName         string           `gorm:"size:255" json:"trading_name"`
	TaxID               string           `gorm:"size:32;not null;uniqueIndex" json:"tax_id"`
	Email               string           `gorm:"size:255;not null" json:"email"`
	Phone               string           `gorm:"size:32" json:"phone"`
	FeeType             fee.Type         `gorm:"size:16;not null" json:"fee_type"`
	FeeAmount           *int64           `json:"fee_amount"`
	FeePercentage       *decimal.Decimal `gorm:"type:numeric(5,2)" json:"fee_percentage"`
	Balance             decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`
	Status              string           `gorm:"size:16;not null;index" json:"status"`
	RejectionReason     string           `gorm:"size:512" json:"rejection_reason,omitempty"`
	DocumentsStatus     string           `gorm:"size:16;not null" json:"documents_status"`
	DocumentsVerifiedAt *time.Time       `json:"documents_verified_at,omitempty"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Merchant) TableName() string { return "merchants" }

// Fee returns the merchant's fee configuration.
func (m *Merchant) Fee() (fee.Config, error) {
	return fee.Parse(m.FeeType, m.FeeAmount, m.FeePercentage)
}

// SetFee stores cfg, clearing the field of the other fee type.
func (m *Merchant) SetFee(cfg fee.Config) {
	m.FeeType = cfg.Type()
	switch c := cfg.(type) {
	case fee.Fixed:
		cents := c.Cents
		m.FeeAmount = &cents
		m.FeePercentage = nil
	case fee.Percentage:
		rate := c.Rate
		m.FeePercentage = &rate
		m.FeeAmount = nil
	}
}

func (m *Merchant) IsApproved() bool { return m.Status == MerchantApproved }

func (m *Merchant) DocumentsVerified() bool { return m.DocumentsStatus == DocumentsApproved }
