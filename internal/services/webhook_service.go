package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/billing"
	"billing_backend/internal/config"
	"billing_backend/internal/logger"
	"billing_backend/internal/models"
	"billing_backend/internal/provider"
	"billing_backend/internal/repositories"
)

// provider-side subscription statuses mirrored into the local state machine
var providerStatusMap = map[string]models.SubscriptionStatus{
	"active":   models.SubscriptionStatusActive,
	"trialing": models.SubscriptionStatusTrial,
	"past_due": models.SubscriptionStatusSuspended,
	"unpaid":   models.SubscriptionStatusSuspended,
	"canceled": models.SubscriptionStatusCancelled,
}

type WebhookService interface {
	// ProcessWebhook verifies the payload, deduplicates by provider event id
	// and dispatches the event. A replayed event id is acknowledged with no
	// domain effect.
	ProcessWebhook(ctx context.Context, payload []byte, signature string) error

	// HandleEvent applies an already-verified event, bypassing the signature
	// check. Dedup still applies.
	HandleEvent(ctx context.Context, event *provider.Event) error
}

type webhookService struct {
	tx          txRunner
	subRepo     repositories.SubscriptionRepository
	invoiceRepo repositories.InvoiceRepository
	usageRepo   repositories.UsageRepository
	eventRepo   repositories.WebhookEventRepository
	payments    provider.PaymentProvider
	cfg         *config.Config
	now         func() time.Time
}

func NewWebhookService(
	db *gorm.DB,
	subRepo repositories.SubscriptionRepository,
	invoiceRepo repositories.InvoiceRepository,
	usageRepo repositories.UsageRepository,
	eventRepo repositories.WebhookEventRepository,
	payments provider.PaymentProvider,
	cfg *config.Config,
) WebhookService {
	return &webhookService{
		tx:          gormTxRunner(db),
		subRepo:     subRepo,
		invoiceRepo: invoiceRepo,
		usageRepo:   usageRepo,
		eventRepo:   eventRepo,
		payments:    payments,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *webhookService) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.payments.VerifyWebhook(payload, signature)
	if err != nil {
		return appErrors.Wrap(err, appErrors.CodeInvalidSignature, "webhook signature verification failed", 400)
	}
	return s.HandleEvent(ctx, event)
}

func (s *webhookService) HandleEvent(ctx context.Context, event *provider.Event) error {
	ctx = logger.WithEventID(ctx, event.ID)

	existing, err := s.eventRepo.FindByProviderEventID(event.ID)
	if err != nil && !appErrors.Is(err, repositories.ErrEventNotFound) {
		return appErrors.Wrap(err, appErrors.CodeDatabaseError, "event ledger lookup failed", 500)
	}
	if existing != nil {
		if existing.Processed {
			logger.CtxInfo(ctx, "webhook replay ignored", "event_type", event.Type)
			if err := s.eventRepo.IncrementAttempts(event.ID); err != nil {
				logger.CtxWarn(ctx, "attempt counter bump failed", "error", err)
			}
			return nil
		}
		// Earlier delivery failed mid-processing; re-dispatch against the
		// existing ledger row.
		if err := s.eventRepo.IncrementAttempts(event.ID); err != nil {
			logger.CtxWarn(ctx, "attempt counter bump failed", "error", err)
		}
		return s.dispatchAndMark(ctx, event, true)
	}
	return s.dispatchAndMark(ctx, event, false)
}

// dispatchAndMark applies the event's effects, then records the outcome in the
// dedup ledger. Effects are idempotent guarded writes, so a crash between the
// two steps only costs a redundant re-dispatch on redelivery.
//
// A failed dispatch is still acknowledged once the ledger row is written:
// answering 5xx would only trigger provider retry storms. The failure stays on
// the row (LastError, Processed=false) and recovery comes from later events
// re-reading current state.
func (s *webhookService) dispatchAndMark(ctx context.Context, event *provider.Event, rowExists bool) error {
	dispatchErr := s.dispatch(ctx, event)
	if dispatchErr != nil {
		logger.CtxWarn(ctx, "webhook dispatch failed",
			"event_type", event.Type, "error", dispatchErr)
	}

	now := s.now()
	if rowExists {
		if dispatchErr != nil {
			if err := s.eventRepo.MarkFailed(event.ID, dispatchErr.Error()); err != nil {
				logger.CtxError(ctx, "event ledger update failed", "error", err)
				return dispatchErr
			}
			return nil
		}
		if err := s.eventRepo.MarkProcessed(event.ID, now); err != nil {
			logger.CtxError(ctx, "event ledger update failed", "error", err)
		}
		return nil
	}

	row := &models.ProcessedWebhookEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Attempts:        1,
	}
	if dispatchErr == nil {
		row.Processed = true
		row.ProcessedAt = &now
	} else {
		row.LastError = dispatchErr.Error()
	}
	if err := s.eventRepo.Create(row); err != nil {
		// A concurrent delivery of the same event id won the insert race;
		// treat this delivery as the replay.
		if appErrors.Is(err, gorm.ErrDuplicatedKey) {
			logger.CtxInfo(ctx, "concurrent webhook delivery lost insert race", "event_type", event.Type)
			return nil
		}
		// Not durably recorded; let the provider redeliver.
		logger.CtxError(ctx, "event ledger insert failed", "error", err)
		if dispatchErr != nil {
			return dispatchErr
		}
		return appErrors.Wrap(err, appErrors.CodeDatabaseError, "event ledger insert failed", 500)
	}
	return nil
}

func (s *webhookService) dispatch(ctx context.Context, event *provider.Event) error {
	switch event.Type {
	case provider.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case provider.EventSubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, event)
	case provider.EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case provider.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	case provider.EventInvoiceCreated:
		return s.handleInvoiceCreated(ctx, event)
	case provider.EventInvoiceFinalized:
		return s.handleInvoiceFinalized(ctx, event)
	case provider.EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case provider.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case provider.EventChargeRefunded:
		return s.handleChargeRefunded(ctx, event)
	case provider.EventPaymentMethodAttached, provider.EventPaymentMethodDetached, provider.EventCustomerUpdated:
		// Informational only; the ledger row still dedups redeliveries.
		logger.CtxInfo(ctx, "informational webhook event", "event_type", event.Type, "customer_id", event.CustomerID)
		return nil
	default:
		logger.CtxWarn(ctx, "unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

func (s *webhookService) findSubscription(event *provider.Event) (*models.Subscription, error) {
	if event.SubscriptionID != "" {
		sub, err := s.subRepo.FindByProviderSubscriptionID(event.SubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	if event.CustomerID != "" {
		return s.subRepo.FindByProviderCustomerID(event.CustomerID)
	}
	if event.OrganizationID != "" {
		return s.subRepo.FindByOrganization(event.OrganizationID)
	}
	return nil, repositories.ErrSubscriptionNotFound
}

func (s *webhookService) handleCheckoutCompleted(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			logger.CtxWarn(ctx, "checkout completed for unknown customer", "customer_id", event.CustomerID)
			return nil
		}
		return err
	}
	if event.SubscriptionID == "" || sub.ProviderSubscriptionID == event.SubscriptionID {
		return nil
	}
	return withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}
		if fresh.ProviderSubscriptionID == event.SubscriptionID {
			return nil
		}
		fresh.ProviderSubscriptionID = event.SubscriptionID
		return s.subRepo.UpdateVersioned(fresh)
	})
}

func (s *webhookService) handleSubscriptionCreated(ctx context.Context, event *provider.Event) error {
	// Same effect: link the provider subscription id to the local row.
	return s.handleCheckoutCompleted(ctx, event)
}

// handleSubscriptionUpdated is the renewal detector and status mirror. A
// provider-active subscription whose local period has elapsed renews the
// period; anything else mirrors the provider status if it maps to a different
// local status.
func (s *webhookService) handleSubscriptionUpdated(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			logger.CtxWarn(ctx, "update for unknown subscription", "provider_subscription_id", event.SubscriptionID)
			return nil
		}
		return err
	}

	return withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}
		now := s.now()

		isRenewal := event.ProviderStatus == "active" &&
			fresh.AutoRenew &&
			fresh.RenewsAt != nil && !now.Before(*fresh.RenewsAt) &&
			fresh.Status != models.SubscriptionStatusExpired
		if isRenewal {
			return s.applyRenewal(ctx, fresh, event, now)
		}
		return s.mirrorStatus(ctx, fresh, event, now)
	})
}

func (s *webhookService) applyRenewal(ctx context.Context, sub *models.Subscription, event *provider.Event, now time.Time) error {
	var renewsAt time.Time
	if !event.PeriodEnd.IsZero() {
		renewsAt = event.PeriodEnd
	} else {
		// Anchor on the original start day so the renewal date never drifts
		// after short months.
		renewsAt = billing.NextRenewalDate(sub.StartedAt.Day(), *sub.RenewsAt)
	}

	fromStatus := sub.Status
	sub.Status = models.SubscriptionStatusActive
	sub.RenewsAt = &renewsAt
	sub.GracePeriodEndsAt = nil
	sub.SMSSpent = 0
	sub.EmailSpent = 0
	sub.FiredAlerts = nil

	logger.CtxInfo(ctx, "subscription renewed",
		"organization_id", sub.OrganizationID, "renews_at", renewsAt)

	return s.tx(func(tx *gorm.DB) error {
		txSubs := s.subRepo.WithTx(tx)
		if err := txSubs.UpdateVersioned(sub); err != nil {
			return err
		}
		return txSubs.AppendLog(&models.SubscriptionLog{
			SubscriptionID: sub.ID,
			Action:         models.ActionRenewed,
			FromStatus:     fromStatus,
			ToStatus:       models.SubscriptionStatusActive,
			ActorID:        "webhook",
		})
	})
}

func (s *webhookService) mirrorStatus(ctx context.Context, sub *models.Subscription, event *provider.Event, now time.Time) error {
	mapped, ok := providerStatusMap[event.ProviderStatus]
	if !ok {
		logger.CtxInfo(ctx, "provider status has no local mapping",
			"provider_status", event.ProviderStatus, "organization_id", sub.OrganizationID)
		return nil
	}
	// EXPIRED is terminal; a re-subscribe creates new local state and stale
	// provider events must not resurrect it.
	if sub.Status == models.SubscriptionStatusExpired || mapped == sub.Status {
		return nil
	}

	fromStatus := sub.Status
	sub.Status = mapped
	switch mapped {
	case models.SubscriptionStatusSuspended:
		if sub.GracePeriodEndsAt == nil {
			grace := now.AddDate(0, 0, billing.GracePeriodDays)
			sub.GracePeriodEndsAt = &grace
		}
	case models.SubscriptionStatusActive:
		sub.GracePeriodEndsAt = nil
	case models.SubscriptionStatusCancelled:
		sub.AutoRenew = false
		if sub.CancelledAt == nil {
			sub.CancelledAt = &now
		}
	}

	detail, _ := json.Marshal(map[string]string{"provider_status": event.ProviderStatus})
	return s.tx(func(tx *gorm.DB) error {
		txSubs := s.subRepo.WithTx(tx)
		if err := txSubs.UpdateVersioned(sub); err != nil {
			return err
		}
		return txSubs.AppendLog(&models.SubscriptionLog{
			SubscriptionID: sub.ID,
			Action:         models.ActionStatusMirrored,
			FromStatus:     fromStatus,
			ToStatus:       mapped,
			ActorID:        "webhook",
			Detail:         detail,
		})
	})
}

func (s *webhookService) handleSubscriptionDeleted(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}
	mirror := *event
	mirror.ProviderStatus = "canceled"
	return withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}
		return s.mirrorStatus(ctx, fresh, &mirror, s.now())
	})
}

// handleInvoiceCreated syncs unbilled usage for the invoice period onto the
// open provider invoice, then mirrors the invoice locally. A per-line provider
// failure skips that line; it stays unbilled and rides the next invoice.
func (s *webhookService) handleInvoiceCreated(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			logger.CtxWarn(ctx, "invoice for unknown subscription", "provider_invoice_id", event.InvoiceID)
			return nil
		}
		return err
	}

	if err := s.ensureInvoiceMirror(sub, event); err != nil {
		return err
	}

	usages, err := s.usageRepo.FindUnbilled(sub.ID, event.PeriodStart, event.PeriodEnd)
	if err != nil {
		return err
	}

	now := s.now()
	for _, u := range usages {
		if !u.IsFree && u.Amount > 0 {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout())
			_, err := s.payments.CreateInvoiceItem(pctx, sub.ProviderCustomerID, event.InvoiceID, u.Amount,
				fmt.Sprintf("%s: %s", u.Type, u.Description))
			cancel()
			if err != nil {
				logger.CtxWarn(ctx, "invoice item push failed, usage stays unbilled",
					"usage_id", u.ID, "error", err)
				continue
			}
		}
		if err := s.usageRepo.MarkBilled(u.ID, now); err != nil {
			// Already billed by a concurrent delivery.
			if appErrors.Is(err, repositories.ErrUsageNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *webhookService) ensureInvoiceMirror(sub *models.Subscription, event *provider.Event) error {
	if event.InvoiceID == "" {
		return nil
	}
	_, err := s.invoiceRepo.FindByProviderInvoiceID(event.InvoiceID)
	if err == nil {
		return nil
	}
	if !appErrors.Is(err, repositories.ErrInvoiceNotFound) {
		return err
	}
	createErr := s.invoiceRepo.Create(&models.Invoice{
		SubscriptionID:    sub.ID,
		ProviderInvoiceID: event.InvoiceID,
		PeriodStart:       event.PeriodStart,
		PeriodEnd:         event.PeriodEnd,
		Subtotal:          event.AmountDue,
		Total:             event.AmountDue,
		Status:            models.InvoiceStatusPending,
	})
	if appErrors.Is(createErr, gorm.ErrDuplicatedKey) {
		return nil
	}
	return createErr
}

func (s *webhookService) handleInvoiceFinalized(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}
	if err := s.ensureInvoiceMirror(sub, event); err != nil {
		return err
	}
	inv, err := s.invoiceRepo.FindByProviderInvoiceID(event.InvoiceID)
	if err != nil {
		return err
	}
	if event.AmountDue > 0 {
		inv.Subtotal = event.AmountDue
		inv.Total = event.AmountDue
	}
	return s.invoiceRepo.Update(inv)
}

func (s *webhookService) handlePaymentSucceeded(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}

	now := s.now()
	if event.InvoiceID != "" {
		// The payment event can outrun invoice.created; make sure the mirror
		// exists before flipping it to paid.
		if err := s.ensureInvoiceMirror(sub, event); err != nil {
			return err
		}
		if err := s.invoiceRepo.UpdateStatus(event.InvoiceID, models.InvoiceStatusPaid, &now); err != nil {
			return err
		}
	}
	if sub.Status != models.SubscriptionStatusSuspended {
		return nil
	}

	return withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}
		if fresh.Status != models.SubscriptionStatusSuspended {
			return nil
		}
		fresh.Status = models.SubscriptionStatusActive
		fresh.GracePeriodEndsAt = nil
		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(fresh); err != nil {
				return err
			}
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: fresh.ID,
				Action:         models.ActionPaymentRecovered,
				FromStatus:     models.SubscriptionStatusSuspended,
				ToStatus:       models.SubscriptionStatusActive,
				ActorID:        "webhook",
			})
		})
	})
}

func (s *webhookService) handlePaymentFailed(ctx context.Context, event *provider.Event) error {
	sub, err := s.findSubscription(event)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}

	if event.InvoiceID != "" {
		if err := s.ensureInvoiceMirror(sub, event); err != nil {
			return err
		}
		if err := s.invoiceRepo.UpdateStatus(event.InvoiceID, models.InvoiceStatusFailed, nil); err != nil {
			return err
		}
		if err := s.invoiceRepo.IncrementRetryCount(event.InvoiceID); err != nil {
			logger.CtxWarn(ctx, "invoice retry counter bump failed", "error", err)
		}
	}
	if !sub.Status.IsLive() {
		return nil
	}

	return withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}
		if !fresh.Status.IsLive() || fresh.Status == models.SubscriptionStatusSuspended {
			return nil
		}
		now := s.now()
		grace := now.AddDate(0, 0, billing.GracePeriodDays)
		fromStatus := fresh.Status
		fresh.Status = models.SubscriptionStatusSuspended
		fresh.GracePeriodEndsAt = &grace
		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(fresh); err != nil {
				return err
			}
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: fresh.ID,
				Action:         models.ActionPaymentFailed,
				FromStatus:     fromStatus,
				ToStatus:       models.SubscriptionStatusSuspended,
				ActorID:        "webhook",
			})
		})
	})
}

func (s *webhookService) handleChargeRefunded(ctx context.Context, event *provider.Event) error {
	if event.InvoiceID == "" {
		logger.CtxInfo(ctx, "refund without invoice reference", "charge_id", event.ChargeID)
		return nil
	}
	err := s.invoiceRepo.UpdateStatus(event.InvoiceID, models.InvoiceStatusRefunded, nil)
	if appErrors.Is(err, repositories.ErrInvoiceNotFound) {
		logger.CtxWarn(ctx, "refund for unknown invoice", "provider_invoice_id", event.InvoiceID)
		return nil
	}
	return err
}
