package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry kinds. (Kind, ReferenceID) is unique, so a given business event
// can move a balance only once.
const (
	LedgerTransactionCredit = "transaction_credit"
	LedgerChargebackDebit   = "chargeback_debit"
	LedgerWithdrawalReserve = "withdrawal_reserve"
	LedgerWithdrawalRelease = "withdrawal_release"
)

type LedgerEntry struct {
	ID          uint64          `gorm:"primaryKey"`
	MerchantID  string          `gorm:"size:36;not null;index"`
	Kind        string          `gorm:"size:32;not null;uniqueIndex:idx_ledger_kind_ref"`
	ReferenceID string          `gorm:"size:64;not null;uniqueIndex:idx_ledger_kind_ref"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
