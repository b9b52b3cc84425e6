package models

import "time"

type UsageType string

const (
	UsageTypeModuleProration   UsageType = "module_proration"
	UsageTypeResourceProration UsageType = "resource_proration"
	UsageTypeSMS               UsageType = "sms"
	UsageTypeEmail             UsageType = "email"
	UsageTypeCall              UsageType = "call"
)

// Usage is an immutable metering record. BilledAt flips exactly once when the
// row has been pushed to a provider invoice line item (or skipped as free).
type Usage struct {
	BaseModel
	SubscriptionID string    `gorm:"type:uuid;not null;index" json:"subscription_id"`
	Type           UsageType `gorm:"type:varchar(32);not null;index" json:"type"`
	Description    string    `gorm:"type:varchar(255)" json:"description"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	UnitPrice      float64   `gorm:"not null;default:0" json:"unit_price"`
	Amount         float64   `gorm:"not null;default:0" json:"amount"`
	IsFree         bool      `gorm:"default:false" json:"is_free"`

	// Caller-supplied key; a repeated key returns the existing row instead of
	// metering twice.
	IdempotencyKey *string    `gorm:"type:varchar(191);uniqueIndex" json:"idempotency_key,omitempty"`
	BilledAt       *time.Time `gorm:"index" json:"billed_at,omitempty"`
}
