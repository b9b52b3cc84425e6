package models

import (
	"time"

	"gorm.io/datatypes"
)

// Invoice is a local mirror of a provider invoice. It is created and updated
// only by the webhook reconciler, keyed by the provider invoice id.
type Invoice struct {
	BaseModel
	SubscriptionID    string         `gorm:"type:uuid;not null;index" json:"subscription_id"`
	ProviderInvoiceID string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_invoice_id"`
	PeriodStart       time.Time      `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time      `gorm:"not null" json:"period_end"`
	Subtotal          float64        `gorm:"not null;default:0" json:"subtotal"`
	Total             float64        `gorm:"not null;default:0" json:"total"`
	Status            InvoiceStatus  `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RetryCount        int            `gorm:"not null;default:0" json:"retry_count"`
	Lines             datatypes.JSON `gorm:"type:jsonb" json:"lines,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
}
