package models

type SubscriptionStatus string
type InvoiceStatus string
type BillingCycle string
type CancelReason string
type BudgetChannel string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"

	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusFailed   InvoiceStatus = "failed"
	InvoiceStatusRefunded InvoiceStatus = "refunded"

	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"

	CancelReasonUserRequest   CancelReason = "user_request"
	CancelReasonPaymentFailed CancelReason = "payment_failed"
	CancelReasonTrialEnded    CancelReason = "trial_ended"
	CancelReasonOther         CancelReason = "other"

	BudgetChannelSMS   BudgetChannel = "sms"
	BudgetChannelEmail BudgetChannel = "email"
)

// IsLive reports whether the subscription still grants access. Cancelled
// subscriptions stay live until the paid period elapses.
func (s SubscriptionStatus) IsLive() bool {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusSuspended:
		return true
	}
	return false
}
