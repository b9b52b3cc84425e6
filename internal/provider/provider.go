// Package provider abstracts the payment provider behind an injected client
// so the state machine and reconciler can be exercised without network calls.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrUnknownEvent = errors.New("provider: unknown event type")

// EventType is the normalized provider event type.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout.completed"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionDeleted   EventType = "subscription.deleted"
	EventInvoiceCreated        EventType = "invoice.created"
	EventInvoiceFinalized      EventType = "invoice.finalized"
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventPaymentMethodAttached EventType = "payment_method.attached"
	EventPaymentMethodDetached EventType = "payment_method.detached"
	EventChargeRefunded        EventType = "charge.refunded"
	EventCustomerUpdated       EventType = "customer.updated"
)

// Event is a provider webhook event normalized to the fields the reconciler
// dispatches on. References are provider-side ids; zero values mean the
// payload did not carry the field.
type Event struct {
	ID             string
	Type           EventType
	CustomerID     string
	SubscriptionID string
	InvoiceID      string
	ChargeID       string
	OrganizationID string // carried in provider metadata
	ProviderStatus string // provider-side subscription status
	PeriodStart    time.Time
	PeriodEnd      time.Time
	AmountDue      float64
	Raw            json.RawMessage
}

// CheckoutSession is the provider-side payment-setup handshake.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProvider is the synchronous surface of the payment provider. Every
// call takes a context and must respect its deadline; callers set bounded
// timeouts.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, organizationID, email string) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, customerID string, metadata map[string]string) (*CheckoutSession, error)

	// HasPaymentMethod reports whether provider-side checkout has completed
	// and a chargeable payment method is on file.
	HasPaymentMethod(ctx context.Context, customerID string) (bool, error)

	CreateSubscription(ctx context.Context, customerID string, monthlyAmount float64, metadata map[string]string) (subscriptionID string, err error)
	ChargeImmediate(ctx context.Context, customerID string, amount float64, description string) (chargeID string, err error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	SetAutoRenew(ctx context.Context, subscriptionID string, autoRenew bool) error
	CreateInvoiceItem(ctx context.Context, customerID, invoiceID string, amount float64, description string) (itemID string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)

	// VerifyWebhook checks the payload signature and normalizes the event.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
