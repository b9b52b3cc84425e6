package models

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription is the single billing aggregate of an organization. It mirrors
// the provider-side subscription and carries the local-only fields the
// provider does not know about (trial window, budgets, audit version).
type Subscription struct {
	BaseModel
	OrganizationID string             `gorm:"type:uuid;not null;uniqueIndex" json:"organization_id"`
	PayerUserID    string             `gorm:"type:uuid;not null;index" json:"payer_user_id"`
	Status         SubscriptionStatus `gorm:"type:varchar(16);not null;default:'trial';index" json:"status"`
	BillingCycle   BillingCycle       `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	StandardPrice  float64            `gorm:"not null;default:0" json:"standard_price"`

	StartedAt         time.Time  `gorm:"not null" json:"started_at"`
	RenewsAt          *time.Time `json:"renews_at,omitempty"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      *string    `gorm:"type:varchar(64)" json:"cancel_reason,omitempty"`
	AutoRenew         bool       `gorm:"default:true" json:"auto_renew"`

	ProviderCustomerID     string         `gorm:"type:varchar(191);index" json:"provider_customer_id"`
	ProviderSubscriptionID string         `gorm:"type:varchar(191);index" json:"provider_subscription_id"`
	ProviderMetadata       datatypes.JSON `gorm:"type:jsonb" json:"provider_metadata,omitempty"`

	// Optimistic lock. Every guarded update increments it; a stale writer
	// matches zero rows.
	Version int `gorm:"not null;default:1" json:"version"`

	SMSBudget   float64        `gorm:"not null;default:0" json:"sms_budget"`
	EmailBudget float64        `gorm:"not null;default:0" json:"email_budget"`
	SMSSpent    float64        `gorm:"not null;default:0" json:"sms_spent"`
	EmailSpent  float64        `gorm:"not null;default:0" json:"email_spent"`
	FiredAlerts datatypes.JSON `gorm:"type:jsonb" json:"fired_alerts,omitempty"` // thresholds already alerted this cycle

	// Relations
	Modules   []SubscriptionModule   `gorm:"foreignKey:SubscriptionID" json:"modules,omitempty"`
	Resources []SubscriptionResource `gorm:"foreignKey:SubscriptionID" json:"resources,omitempty"`
}

// IsCancellationPending reports whether a cancel-at-period-end has been
// requested but the period has not elapsed yet.
func (s *Subscription) IsCancellationPending() bool {
	return s.CancelledAt != nil &&
		s.Status != SubscriptionStatusCancelled &&
		s.Status != SubscriptionStatusExpired
}

// PeriodElapsed reports whether the current paid (or trial) period is over.
func (s *Subscription) PeriodElapsed(now time.Time) bool {
	if s.Status == SubscriptionStatusTrial {
		return s.TrialEndsAt != nil && !now.Before(*s.TrialEndsAt)
	}
	return s.RenewsAt != nil && !now.Before(*s.RenewsAt)
}

// SubscriptionModule attaches a priced module to a subscription. Removal is
// soft so past proration charges keep their anchor row.
type SubscriptionModule struct {
	BaseModel
	SubscriptionID string     `gorm:"type:uuid;not null;index" json:"subscription_id"`
	ModuleKey      string     `gorm:"type:varchar(64);not null;index" json:"module_key"`
	MonthlyPrice   float64    `gorm:"not null;default:0" json:"monthly_price"`
	AddedAt        time.Time  `gorm:"not null" json:"added_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// SubscriptionResource attaches a quantified resource (phone numbers, seats)
// to a subscription.
type SubscriptionResource struct {
	BaseModel
	SubscriptionID string     `gorm:"type:uuid;not null;index" json:"subscription_id"`
	ResourceKey    string     `gorm:"type:varchar(64);not null;index" json:"resource_key"`
	Quantity       int        `gorm:"not null;default:1" json:"quantity"`
	UnitPrice      float64    `gorm:"not null;default:0" json:"unit_price"`
	AddedAt        time.Time  `gorm:"not null" json:"added_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}
