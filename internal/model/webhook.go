package model

import (
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
)

const (
	EventPaymentCreated    = "payment.created"
	EventPaymentSuccess    = "payment.success"
	EventPaymentFailed     = "payment.failed"
	EventPaymentChargeback = "payment.chargeback"
	EventTestWebhook       = "test.webhook"
)

// WebhookSubscription is a merchant endpoint receiving payment events.
type WebhookSubscription struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	MerchantID      string                      `gorm:"size:36;not null;index" json:"merchant_id"`
	URL             string                      `gorm:"size:1024;not null" json:"url"`
	Description     string                      `gorm:"size:255" json:"description,omitempty"`
	Events          datatypes.JSONSlice[string] `json:"events"`
	SecretToken     string                      `gorm:"size:128;not null" json:"-"`
	FailureCount    int                         `gorm:"not null;default:0" json:"failure_count"`
	IsActive        bool                        `gorm:"not null;default:true" json:"is_active"`
	LastTriggeredAt *time.Time                  `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookSubscription) TableName() string { return "webhook_subscriptions" }

// Subscribes reports whether the subscription wants event.
func (w *WebhookSubscription) Subscribes(event string) bool {
	return lo.Contains(w.Events, event)
}
