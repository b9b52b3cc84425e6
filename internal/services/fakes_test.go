package services

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"billing_backend/internal/config"
	"billing_backend/internal/models"
	"billing_backend/internal/repositories"
)

// In-memory repository fakes. They reproduce the guarded-write semantics of
// the real implementations (version checks, unique indexes, billed-once
// stamps) so concurrency edge cases are testable without a database.

func passthroughTx(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Billing.DefaultSMSBudget = 50
	cfg.Billing.DefaultEmailBudget = 20
	return cfg
}

// fakeSubRepo

type fakeSubRepo struct {
	mu        sync.Mutex
	subs      map[string]*models.Subscription
	modules   []*models.SubscriptionModule
	resources []*models.SubscriptionResource
	logs      []models.SubscriptionLog
	seq       int

	// ConflictsRemaining forces the next N UpdateVersioned calls to report a
	// version conflict.
	ConflictsRemaining int
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]*models.Subscription)}
}

func (f *fakeSubRepo) WithTx(_ *gorm.DB) repositories.SubscriptionRepository { return f }

func (f *fakeSubRepo) Create(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.subs {
		if existing.OrganizationID == sub.OrganizationID {
			return gorm.ErrDuplicatedKey
		}
	}
	f.seq++
	sub.ID = fmt.Sprintf("sub-%d", f.seq)
	if sub.Version == 0 {
		sub.Version = 1
	}
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeSubRepo) findOne(pred func(*models.Subscription) bool) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if pred(sub) {
			cp := *sub
			cp.Modules = nil
			cp.Resources = nil
			for _, m := range f.modules {
				if m.SubscriptionID == sub.ID && m.RemovedAt == nil {
					cp.Modules = append(cp.Modules, *m)
				}
			}
			for _, r := range f.resources {
				if r.SubscriptionID == sub.ID && r.RemovedAt == nil {
					cp.Resources = append(cp.Resources, *r)
				}
			}
			return &cp, nil
		}
	}
	return nil, repositories.ErrSubscriptionNotFound
}

func (f *fakeSubRepo) FindByOrganization(orgID string) (*models.Subscription, error) {
	return f.findOne(func(s *models.Subscription) bool { return s.OrganizationID == orgID })
}

func (f *fakeSubRepo) FindByID(id string) (*models.Subscription, error) {
	return f.findOne(func(s *models.Subscription) bool { return s.ID == id })
}

func (f *fakeSubRepo) FindByProviderSubscriptionID(providerSubID string) (*models.Subscription, error) {
	return f.findOne(func(s *models.Subscription) bool { return s.ProviderSubscriptionID == providerSubID })
}

func (f *fakeSubRepo) FindByProviderCustomerID(providerCustomerID string) (*models.Subscription, error) {
	return f.findOne(func(s *models.Subscription) bool { return s.ProviderCustomerID == providerCustomerID })
}

func (f *fakeSubRepo) UpdateVersioned(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConflictsRemaining > 0 {
		f.ConflictsRemaining--
		return repositories.ErrVersionConflict
	}
	stored, ok := f.subs[sub.ID]
	if !ok || stored.Version != sub.Version {
		return repositories.ErrVersionConflict
	}
	cp := *sub
	cp.Version = sub.Version + 1
	cp.Modules = nil
	cp.Resources = nil
	f.subs[sub.ID] = &cp
	sub.Version = cp.Version
	return nil
}

func (f *fakeSubRepo) FindCancelledPastPeriod(now time.Time) ([]models.Subscription, error) {
	return f.scan(func(s *models.Subscription) bool {
		return s.CancelledAt != nil && s.RenewsAt != nil && !now.Before(*s.RenewsAt) &&
			(s.Status.IsLive() || s.Status == models.SubscriptionStatusCancelled)
	})
}

func (f *fakeSubRepo) FindTrialsPastEnd(now time.Time) ([]models.Subscription, error) {
	return f.scan(func(s *models.Subscription) bool {
		return s.Status == models.SubscriptionStatusTrial && s.TrialEndsAt != nil && !now.Before(*s.TrialEndsAt)
	})
}

func (f *fakeSubRepo) FindSuspendedPastGrace(now time.Time) ([]models.Subscription, error) {
	return f.scan(func(s *models.Subscription) bool {
		return s.Status == models.SubscriptionStatusSuspended && s.GracePeriodEndsAt != nil && !now.Before(*s.GracePeriodEndsAt)
	})
}

func (f *fakeSubRepo) scan(pred func(*models.Subscription) bool) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if pred(sub) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) FindActiveModule(subscriptionID, moduleKey string) (*models.SubscriptionModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.modules {
		if m.SubscriptionID == subscriptionID && m.ModuleKey == moduleKey && m.RemovedAt == nil {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repositories.ErrModuleNotFound
}

func (f *fakeSubRepo) CreateModule(module *models.SubscriptionModule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	module.ID = fmt.Sprintf("mod-%d", f.seq)
	cp := *module
	f.modules = append(f.modules, &cp)
	return nil
}

func (f *fakeSubRepo) FindActiveResource(subscriptionID, resourceKey string) (*models.SubscriptionResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.resources {
		if r.SubscriptionID == subscriptionID && r.ResourceKey == resourceKey && r.RemovedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repositories.ErrResourceNotFound
}

func (f *fakeSubRepo) CreateResource(resource *models.SubscriptionResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	resource.ID = fmt.Sprintf("res-%d", f.seq)
	cp := *resource
	f.resources = append(f.resources, &cp)
	return nil
}

func (f *fakeSubRepo) AddResourceQuantity(resourceID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.resources {
		if r.ID == resourceID {
			r.Quantity += delta
			return nil
		}
	}
	return repositories.ErrResourceNotFound
}

func (f *fakeSubRepo) AppendLog(entry *models.SubscriptionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeSubRepo) FindLogs(subscriptionID string, limit int) ([]models.SubscriptionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SubscriptionLog
	for _, l := range f.logs {
		if l.SubscriptionID == subscriptionID {
			out = append(out, l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeSubRepo) logActions(subscriptionID string) []models.SubscriptionAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SubscriptionAction
	for _, l := range f.logs {
		if l.SubscriptionID == subscriptionID {
			out = append(out, l.Action)
		}
	}
	return out
}

// fakeTrialRepo

type fakeTrialRepo struct {
	mu     sync.Mutex
	status map[string]*models.UserTrialStatus

	// ConcurrentClaimAfterRead simulates another request committing a trial
	// claim for the same user between this request's read and its insert:
	// the next Create stores the winner's row and fails with a duplicate key.
	ConcurrentClaimAfterRead bool
}

func newFakeTrialRepo() *fakeTrialRepo {
	return &fakeTrialRepo{status: make(map[string]*models.UserTrialStatus)}
}

func (f *fakeTrialRepo) WithTx(_ *gorm.DB) repositories.TrialRepository { return f }

func (f *fakeTrialRepo) FindByUserID(userID string) (*models.UserTrialStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[userID]
	if !ok {
		return nil, repositories.ErrTrialStatusNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeTrialRepo) Create(status *models.UserTrialStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[status.UserID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if f.ConcurrentClaimAfterRead {
		f.ConcurrentClaimAfterRead = false
		now := time.Now()
		f.status[status.UserID] = &models.UserTrialStatus{
			UserID:       status.UserID,
			HasUsedTrial: true,
			TrialUsedAt:  &now,
		}
		return gorm.ErrDuplicatedKey
	}
	cp := *status
	f.status[status.UserID] = &cp
	return nil
}

func (f *fakeTrialRepo) MarkUsed(userID string, at time.Time, organizations datatypes.JSON) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[userID]
	if !ok || st.HasUsedTrial {
		return repositories.ErrTrialAlreadyUsed
	}
	st.HasUsedTrial = true
	st.TrialUsedAt = &at
	st.Organizations = organizations
	return nil
}

// fakeUsageRepo

type fakeUsageRepo struct {
	mu      sync.Mutex
	records []*models.Usage
	seq     int
}

func newFakeUsageRepo() *fakeUsageRepo { return &fakeUsageRepo{} }

func (f *fakeUsageRepo) WithTx(_ *gorm.DB) repositories.UsageRepository { return f }

func (f *fakeUsageRepo) Create(usage *models.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if usage.IdempotencyKey != nil {
		for _, u := range f.records {
			if u.IdempotencyKey != nil && *u.IdempotencyKey == *usage.IdempotencyKey {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	f.seq++
	usage.ID = fmt.Sprintf("usage-%d", f.seq)
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	cp := *usage
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeUsageRepo) FindByID(id string) (*models.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.records {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrUsageNotFound
}

func (f *fakeUsageRepo) FindByIdempotencyKey(key string) (*models.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.records {
		if u.IdempotencyKey != nil && *u.IdempotencyKey == key {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrUsageNotFound
}

func (f *fakeUsageRepo) FindUnbilled(subscriptionID string, periodStart, periodEnd time.Time) ([]models.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Usage
	for _, u := range f.records {
		if u.SubscriptionID != subscriptionID || u.BilledAt != nil {
			continue
		}
		if u.CreatedAt.Before(periodStart) || u.CreatedAt.After(periodEnd) {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsageRepo) MarkBilled(usageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.records {
		if u.ID == usageID {
			if u.BilledAt != nil {
				return repositories.ErrUsageNotFound
			}
			u.BilledAt = &at
			return nil
		}
	}
	return repositories.ErrUsageNotFound
}

func (f *fakeUsageRepo) FindBySubscription(subscriptionID string, limit int) ([]models.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Usage
	for _, u := range f.records {
		if u.SubscriptionID == subscriptionID {
			out = append(out, *u)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUsageRepo) byType(usageType models.UsageType) []*models.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Usage
	for _, u := range f.records {
		if u.Type == usageType {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out
}

// fakeInvoiceRepo

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*models.Invoice
	seq      int
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[string]*models.Invoice)}
}

func (f *fakeInvoiceRepo) WithTx(_ *gorm.DB) repositories.InvoiceRepository { return f }

func (f *fakeInvoiceRepo) Create(invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.invoices[invoice.ProviderInvoiceID]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.seq++
	invoice.ID = fmt.Sprintf("inv-%d", f.seq)
	cp := *invoice
	f.invoices[invoice.ProviderInvoiceID] = &cp
	return nil
}

func (f *fakeInvoiceRepo) FindByProviderInvoiceID(providerInvoiceID string) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[providerInvoiceID]
	if !ok {
		return nil, repositories.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvoiceRepo) Update(invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.invoices[invoice.ProviderInvoiceID]; !ok {
		return repositories.ErrInvoiceNotFound
	}
	cp := *invoice
	f.invoices[invoice.ProviderInvoiceID] = &cp
	return nil
}

func (f *fakeInvoiceRepo) UpdateStatus(providerInvoiceID string, status models.InvoiceStatus, paidAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[providerInvoiceID]
	if !ok {
		return repositories.ErrInvoiceNotFound
	}
	inv.Status = status
	inv.PaidAt = paidAt
	return nil
}

func (f *fakeInvoiceRepo) IncrementRetryCount(providerInvoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[providerInvoiceID]
	if !ok {
		return repositories.ErrInvoiceNotFound
	}
	inv.RetryCount++
	return nil
}

func (f *fakeInvoiceRepo) FindBySubscription(subscriptionID string, limit int) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if inv.SubscriptionID == subscriptionID {
			out = append(out, *inv)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeEventRepo

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.ProcessedWebhookEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*models.ProcessedWebhookEvent)}
}

func (f *fakeEventRepo) WithTx(_ *gorm.DB) repositories.WebhookEventRepository { return f }

func (f *fakeEventRepo) FindByProviderEventID(providerEventID string) (*models.ProcessedWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[providerEventID]
	if !ok {
		return nil, repositories.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeEventRepo) Create(event *models.ProcessedWebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[event.ProviderEventID]; ok {
		return gorm.ErrDuplicatedKey
	}
	cp := *event
	f.events[event.ProviderEventID] = &cp
	return nil
}

func (f *fakeEventRepo) IncrementAttempts(providerEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[providerEventID]
	if !ok {
		return repositories.ErrEventNotFound
	}
	ev.Attempts++
	return nil
}

func (f *fakeEventRepo) MarkProcessed(providerEventID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[providerEventID]
	if !ok {
		return repositories.ErrEventNotFound
	}
	ev.Processed = true
	ev.ProcessedAt = &at
	ev.LastError = ""
	return nil
}

func (f *fakeEventRepo) MarkFailed(providerEventID string, processingErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[providerEventID]
	if !ok {
		return repositories.ErrEventNotFound
	}
	ev.Processed = false
	ev.LastError = processingErr
	return nil
}
