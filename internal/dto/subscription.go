package dto

import (
	"time"

	"billing_backend/internal/models"
)

// OrderItem is a module picked at subscribe time; pricing is resolved by the
// caller from the external catalog.
type OrderItem struct {
	ModuleKey    string  `json:"module_key" binding:"required,catalog_key"`
	MonthlyPrice float64 `json:"monthly_price" binding:"min=0"`
}

type CreateSubscriptionRequest struct {
	Organizations []string    `json:"organizations" binding:"required,min=1"`
	Items         []OrderItem `json:"items" binding:"required,min=1,dive"`
	PayerEmail    string      `json:"payer_email" binding:"required,email"`
}

type CreateSubscriptionResponse struct {
	Subscriptions []SubscriptionView `json:"subscriptions"`
	CheckoutURL   string             `json:"checkout_url,omitempty"`
}

type SubscriptionView struct {
	ID             string                    `json:"id"`
	OrganizationID string                    `json:"organization_id"`
	Status         models.SubscriptionStatus `json:"status"`
	StandardPrice  float64                   `json:"standard_price"`
	StartedAt      time.Time                 `json:"started_at"`
	RenewsAt       *time.Time                `json:"renews_at,omitempty"`
	TrialEndsAt    *time.Time                `json:"trial_ends_at,omitempty"`
	CancelledAt    *time.Time                `json:"cancelled_at,omitempty"`
	AutoRenew      bool                      `json:"auto_renew"`
}

func NewSubscriptionView(sub *models.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:             sub.ID,
		OrganizationID: sub.OrganizationID,
		Status:         sub.Status,
		StandardPrice:  sub.StandardPrice,
		StartedAt:      sub.StartedAt,
		RenewsAt:       sub.RenewsAt,
		TrialEndsAt:    sub.TrialEndsAt,
		CancelledAt:    sub.CancelledAt,
		AutoRenew:      sub.AutoRenew,
	}
}

type ActivateSubscriptionResponse struct {
	Status   models.SubscriptionStatus `json:"status"`
	RenewsAt time.Time                 `json:"renews_at"`
}

type CancelSubscriptionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CancelSubscriptionResponse struct {
	EffectiveDate time.Time `json:"effective_date"`
}

// RestoredConfiguration reports what a reactivation brought back.
type RestoredConfiguration struct {
	Modules   []string       `json:"modules"`
	Resources map[string]int `json:"resources"`
}

type ReactivateSubscriptionResponse struct {
	Status                models.SubscriptionStatus `json:"status"`
	RenewsAt              *time.Time                `json:"renews_at,omitempty"`
	RestoredConfiguration RestoredConfiguration     `json:"restored_configuration"`
}

type AddModuleRequest struct {
	ModuleKey    string  `json:"module_key" binding:"required,catalog_key"`
	MonthlyPrice float64 `json:"monthly_price" binding:"min=0"`
}

type AddResourceRequest struct {
	ResourceKey string  `json:"resource_key" binding:"required,catalog_key"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	UnitPrice   float64 `json:"unit_price" binding:"min=0"`
}

type ProratedChargeResponse struct {
	ProratedCharge float64 `json:"prorated_charge"`
}

type RecordUsageRequest struct {
	Type           models.UsageType `json:"type" binding:"required,usage_type"`
	Quantity       int              `json:"quantity" binding:"required,min=1"`
	UnitPrice      float64          `json:"unit_price" binding:"min=0"`
	Free           bool             `json:"free"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type PortalSessionResponse struct {
	URL string `json:"url"`
}
