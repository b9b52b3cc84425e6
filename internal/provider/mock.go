package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a threadsafe test double that records calls and returns
// configurable results.
type MockProvider struct {
	mu sync.Mutex

	// Customers maps organizationID -> customerID.
	Customers map[string]string
	// Subscriptions maps subscriptionID -> customerID.
	Subscriptions map[string]string
	// PaymentMethodOnFile maps customerID -> handshake completed.
	PaymentMethodOnFile map[string]bool
	// Charges collects immediate charges.
	Charges []MockCharge
	// InvoiceItems collects created invoice line items.
	InvoiceItems []MockInvoiceItem
	// CancelledAtPeriodEnd collects subscription ids.
	CancelledAtPeriodEnd []string
	// AutoRenewCalls maps subscriptionID -> last value set.
	AutoRenewCalls map[string]bool

	// Error fields let tests inject failures per call.
	CreateCustomerErr    error
	CheckoutSessionErr   error
	CreateSubErr         error
	ChargeErr            error
	CancelErr            error
	AutoRenewErr         error
	InvoiceItemErr       error
	PortalErr            error
	VerifyErr            error
	FailInvoiceItemDescs map[string]error // description -> error for per-line failures

	// NextEvent is returned by VerifyWebhook when set.
	NextEvent *Event

	nextCustomerSeq int
	nextSubSeq      int
	nextChargeSeq   int
	nextItemSeq     int
}

type MockCharge struct {
	CustomerID  string
	Amount      float64
	Description string
}

type MockInvoiceItem struct {
	CustomerID  string
	InvoiceID   string
	Amount      float64
	Description string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:           make(map[string]string),
		Subscriptions:       make(map[string]string),
		PaymentMethodOnFile: make(map[string]bool),
		AutoRenewCalls:      make(map[string]bool),
	}
}

func (m *MockProvider) CreateCustomer(_ context.Context, organizationID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateCustomerErr != nil {
		return "", m.CreateCustomerErr
	}
	m.nextCustomerSeq++
	id := fmt.Sprintf("cus_mock_%d", m.nextCustomerSeq)
	m.Customers[organizationID] = id
	return id, nil
}

func (m *MockProvider) CreateCheckoutSession(_ context.Context, customerID string, _ map[string]string) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckoutSessionErr != nil {
		return nil, m.CheckoutSessionErr
	}
	return &CheckoutSession{
		ID:  "cs_mock_" + customerID,
		URL: "https://checkout.mock/" + customerID,
	}, nil
}

func (m *MockProvider) HasPaymentMethod(_ context.Context, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PaymentMethodOnFile[customerID], nil
}

// CompleteCheckout marks the handshake done, as the real checkout flow would.
func (m *MockProvider) CompleteCheckout(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentMethodOnFile[customerID] = true
}

func (m *MockProvider) CreateSubscription(_ context.Context, customerID string, _ float64, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateSubErr != nil {
		return "", m.CreateSubErr
	}
	m.nextSubSeq++
	id := fmt.Sprintf("sub_mock_%d", m.nextSubSeq)
	m.Subscriptions[id] = customerID
	return id, nil
}

func (m *MockProvider) ChargeImmediate(_ context.Context, customerID string, amount float64, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChargeErr != nil {
		return "", m.ChargeErr
	}
	m.nextChargeSeq++
	m.Charges = append(m.Charges, MockCharge{CustomerID: customerID, Amount: amount, Description: description})
	return fmt.Sprintf("pi_mock_%d", m.nextChargeSeq), nil
}

func (m *MockProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.CancelledAtPeriodEnd = append(m.CancelledAtPeriodEnd, subscriptionID)
	return nil
}

func (m *MockProvider) SetAutoRenew(_ context.Context, subscriptionID string, autoRenew bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AutoRenewErr != nil {
		return m.AutoRenewErr
	}
	m.AutoRenewCalls[subscriptionID] = autoRenew
	return nil
}

func (m *MockProvider) CreateInvoiceItem(_ context.Context, customerID, invoiceID string, amount float64, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InvoiceItemErr != nil {
		return "", m.InvoiceItemErr
	}
	if err, ok := m.FailInvoiceItemDescs[description]; ok {
		return "", err
	}
	m.nextItemSeq++
	m.InvoiceItems = append(m.InvoiceItems, MockInvoiceItem{
		CustomerID:  customerID,
		InvoiceID:   invoiceID,
		Amount:      amount,
		Description: description,
	})
	return fmt.Sprintf("ii_mock_%d", m.nextItemSeq), nil
}

func (m *MockProvider) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PortalErr != nil {
		return "", m.PortalErr
	}
	return "https://portal.mock/" + customerID, nil
}

func (m *MockProvider) VerifyWebhook(_ []byte, _ string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	return m.NextEvent, nil
}
