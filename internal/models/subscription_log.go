package models

import "gorm.io/datatypes"

type SubscriptionAction string

const (
	ActionCreated         SubscriptionAction = "created"
	ActionActivated       SubscriptionAction = "activated"
	ActionCancelled       SubscriptionAction = "cancelled"
	ActionReactivated     SubscriptionAction = "reactivated"
	ActionSuspended       SubscriptionAction = "suspended"
	ActionResumed         SubscriptionAction = "resumed"
	ActionRenewed         SubscriptionAction = "renewed"
	ActionExpired         SubscriptionAction = "expired"
	ActionModuleAdded     SubscriptionAction = "module_added"
	ActionResourceAdded   SubscriptionAction = "resource_added"
	ActionStatusMirrored  SubscriptionAction = "status_mirrored"
	ActionBudgetAlert     SubscriptionAction = "budget_alert"
	ActionInvoiceSynced   SubscriptionAction = "invoice_synced"
	ActionPaymentFailed   SubscriptionAction = "payment_failed"
	ActionPaymentRecovered SubscriptionAction = "payment_recovered"
)

// SubscriptionLog is the append-only audit trail. Rows are never updated or
// deleted.
type SubscriptionLog struct {
	BaseModel
	SubscriptionID string             `gorm:"type:uuid;not null;index" json:"subscription_id"`
	Action         SubscriptionAction `gorm:"type:varchar(32);not null;index" json:"action"`
	FromStatus     SubscriptionStatus `gorm:"type:varchar(16)" json:"from_status,omitempty"`
	ToStatus       SubscriptionStatus `gorm:"type:varchar(16)" json:"to_status,omitempty"`
	ActorID        string             `gorm:"type:varchar(64)" json:"actor_id,omitempty"` // user id or "system"/"webhook"
	Detail         datatypes.JSON     `gorm:"type:jsonb" json:"detail,omitempty"`
}
