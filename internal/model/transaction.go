package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TxPending    = "pending"
	TxCompleted  = "completed"
	TxFailed     = "failed"
	TxChargeback = "chargeback"
)

// Transaction is a PIX charge issued on behalf of a merchant.
type Transaction struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	MerchantID        string          `gorm:"size:36;not null;index;uniqueIndex:idx_tx_merchant_reference" json:"merchant_id"`
	Reference         *string         `gorm:"size:64;uniqueIndex:idx_tx_merchant_reference" json:"reference,omitempty"`
	CorrelationID     string          `gorm:"size:64;not null;uniqueIndex" json:"transaction_id"`
	GatewayTxID       string          `gorm:"size:64;index" json:"txid,omitempty"`
	EndToEndID        *string         `gorm:"size:64;uniqueIndex" json:"end_to_end_id,omitempty"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null;index" json:"amount"`
	FeeAmount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"fee_amount"`
	NetAmount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"net_amount"`
	Status            string          `gorm:"size:16;not null;index" json:"status"`
	Description       string          `gorm:"size:255" json:"description,omitempty"`
	PixData           datatypes.JSON  `json:"pix_data,omitempty"`
	CustomerInfo      datatypes.JSON  `json:"customer_info,omitempty"`
	PayerInfo         datatypes.JSON  `json:"payer_info,omitempty"`
	RefundID          string          `gorm:"size:64" json:"refund_id,omitempty"`
	// RefundRequestedAt is set before the gateway refund is issued and cleared
	// only if the gateway rejects it.
	RefundRequestedAt *time.Time      `json:"refund_requested_at,omitempty"`
	FailureReason     string          `gorm:"size:512" json:"failure_reason,omitempty"`
	ExpiresAt         time.Time       `gorm:"not null;index" json:"expires_at"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// PixData is the charge snapshot returned by the gateway at creation.
type PixData struct {
	QRCode      string    `json:"qr_code"`
	QRCodeImage string    `json:"qr_code_image,omitempty"`
	PaymentLink string    `json:"payment_link,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Payer describes who pays. In payer_info it is what the gateway reported at
// settlement; in customer_info it is what the merchant declared at creation.
type Payer struct {
	Name    string `json:"name,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Bank    string `json:"bank,omitempty"`
	Account string `json:"account,omitempty"`
}
