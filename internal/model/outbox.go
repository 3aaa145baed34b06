package model

import "time"

const (
	AggregateMerchant    = "Merchant"
	AggregateTransaction = "Transaction"
	AggregateWithdrawal  = "Withdrawal"
)

// OutboxEvent is written in the same DB transaction as the change it describes
// and relayed to Kafka by the poller.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null;index"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Merchant{}, &Transaction{}, &Withdrawal{}, &WebhookSubscription{},
		&LedgerEntry{}, &OutboxEvent{}, &APIKey{},
	}
}
