package model

import "time"

type APIKey struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	MerchantID string     `gorm:"size:36;not null;index" json:"merchant_id"`
	KeyName    string     `gorm:"size:128;not null" json:"key_name"`
	APIKey     string     `gorm:"size:64;not null;uniqueIndex" json:"api_key"`
	SecretHash string     `gorm:"size:128;not null" json:"-"`
	TestMode   bool       `gorm:"not null;default:false" json:"test_mode"`
	IsActive   bool       `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (APIKey) TableName() string { return "api_keys" }
