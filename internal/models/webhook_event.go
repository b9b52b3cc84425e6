package models

import "time"

// ProcessedWebhookEvent is the dedup ledger for provider webhook deliveries.
// The provider event id is the sole deduplication key: once a row exists, a
// redelivery only bumps Attempts and applies no domain effect.
type ProcessedWebhookEvent struct {
	BaseModel
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	Attempts        int        `gorm:"not null;default:1" json:"attempts"`
	LastError       string     `gorm:"type:text" json:"last_error,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}
