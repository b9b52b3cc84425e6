package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig configures the Stripe-backed provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string // lowercase ISO code, e.g. "usd"
	ProductID     string // Stripe product the recurring price is created under
	SuccessURL    string
	CancelURL     string
	PortalReturn  string
}

// StripeProvider implements PaymentProvider with the Stripe API.
type StripeProvider struct {
	cfg StripeConfig
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.APIKey
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &StripeProvider{cfg: cfg}
}

func toCents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

func (p *StripeProvider) CreateCustomer(_ context.Context, organizationID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.AddMetadata("organization_id", organizationID)
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(_ context.Context, customerID string, metadata map[string]string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(p.cfg.SuccessURL),
		CancelURL:  stripe.String(p.cfg.CancelURL),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) HasPaymentMethod(_ context.Context, customerID string) (bool, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	iter := paymentmethod.List(params)
	for iter.Next() {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("stripe: list payment methods: %w", err)
	}
	return false, nil
}

func (p *StripeProvider) CreateSubscription(_ context.Context, customerID string, monthlyAmount float64, metadata map[string]string) (string, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{{
			PriceData: &stripe.SubscriptionItemPriceDataParams{
				Currency:   stripe.String(p.cfg.Currency),
				Product:    stripe.String(p.cfg.ProductID),
				UnitAmount: stripe.Int64(toCents(monthlyAmount)),
				Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
			},
		}},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	sub, err := subscription.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create subscription: %w", err)
	}
	return sub.ID, nil
}

func (p *StripeProvider) ChargeImmediate(_ context.Context, customerID string, amount float64, description string) (string, error) {
	pi, err := paymentintent.New(&stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toCents(amount)),
		Currency:    stripe.String(p.cfg.Currency),
		Customer:    stripe.String(customerID),
		Description: stripe.String(description),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("stripe: immediate charge: %w", err)
	}
	return pi.ID, nil
}

func (p *StripeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	_, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("stripe: cancel at period end: %w", err)
	}
	return nil
}

func (p *StripeProvider) SetAutoRenew(_ context.Context, subscriptionID string, autoRenew bool) error {
	_, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(!autoRenew),
	})
	if err != nil {
		return fmt.Errorf("stripe: set auto renew: %w", err)
	}
	return nil
}

func (p *StripeProvider) CreateInvoiceItem(_ context.Context, customerID, invoiceID string, amount float64, description string) (string, error) {
	item, err := invoiceitem.New(&stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Invoice:     stripe.String(invoiceID),
		Amount:      stripe.Int64(toCents(amount)),
		Currency:    stripe.String(p.cfg.Currency),
		Description: stripe.String(description),
	})
	if err != nil {
		return "", fmt.Errorf("stripe: create invoice item: %w", err)
	}
	return item.ID, nil
}

func (p *StripeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if returnURL == "" {
		returnURL = p.cfg.PortalReturn
	}
	s, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("stripe: create portal session: %w", err)
	}
	return s.URL, nil
}

// webhookObject covers the payload fields the reconciler dispatches on; Stripe
// delivers references as plain id strings in webhook payloads.
type webhookObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Invoice      string            `json:"invoice"`
	Status       string            `json:"status"`
	PeriodStart  int64             `json:"period_start"`
	PeriodEnd    int64             `json:"period_end"`
	AmountDue    int64             `json:"amount_due"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, p.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe: webhook signature verification: %w", err)
	}
	return normalizeStripeEvent(&stripeEvent)
}

func normalizeStripeEvent(se *stripe.Event) (*Event, error) {
	eventType, ok := stripeEventTypes[string(se.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, se.Type)
	}

	var obj webhookObject
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("stripe: parse event %s payload: %w", se.ID, err)
	}

	ev := &Event{
		ID:             se.ID,
		Type:           eventType,
		CustomerID:     obj.Customer,
		ProviderStatus: obj.Status,
		AmountDue:      fromCents(obj.AmountDue),
		Raw:            se.Data.Raw,
	}
	if obj.PeriodStart > 0 {
		ev.PeriodStart = time.Unix(obj.PeriodStart, 0)
	}
	if obj.PeriodEnd > 0 {
		ev.PeriodEnd = time.Unix(obj.PeriodEnd, 0)
	}
	if obj.Metadata != nil {
		ev.OrganizationID = obj.Metadata["organization_id"]
	}

	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		ev.SubscriptionID = obj.ID
	case EventInvoiceCreated, EventInvoiceFinalized, EventPaymentSucceeded, EventPaymentFailed:
		ev.InvoiceID = obj.ID
		ev.SubscriptionID = obj.Subscription
		if ev.SubscriptionID == "" && obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
			ev.SubscriptionID = obj.Parent.SubscriptionDetails.Subscription
		}
	case EventChargeRefunded:
		ev.ChargeID = obj.ID
		ev.InvoiceID = obj.Invoice
	case EventCustomerUpdated:
		ev.CustomerID = obj.ID
	}
	return ev, nil
}

var stripeEventTypes = map[string]EventType{
	"checkout.session.completed":    EventCheckoutCompleted,
	"customer.subscription.created": EventSubscriptionCreated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionDeleted,
	"invoice.created":               EventInvoiceCreated,
	"invoice.finalized":             EventInvoiceFinalized,
	"invoice.payment_succeeded":     EventPaymentSucceeded,
	"invoice.payment_failed":        EventPaymentFailed,
	"payment_method.attached":       EventPaymentMethodAttached,
	"payment_method.detached":       EventPaymentMethodDetached,
	"charge.refunded":               EventChargeRefunded,
	"customer.updated":              EventCustomerUpdated,
}
