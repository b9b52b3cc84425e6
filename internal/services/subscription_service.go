package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/billing"
	"billing_backend/internal/config"
	"billing_backend/internal/dto"
	"billing_backend/internal/logger"
	"billing_backend/internal/models"
	"billing_backend/internal/provider"
	"billing_backend/internal/repositories"
)

type SubscriptionService interface {
	CreateSubscriptions(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error)
	ActivateSubscription(ctx context.Context, orgID, userID string) (*dto.ActivateSubscriptionResponse, error)
	CancelSubscription(ctx context.Context, orgID, userID, reason string) (*dto.CancelSubscriptionResponse, error)
	ReactivateSubscription(ctx context.Context, orgID, userID string) (*dto.ReactivateSubscriptionResponse, error)
	AddModule(ctx context.Context, orgID, actorID string, req *dto.AddModuleRequest) (*dto.ProratedChargeResponse, error)
	AddResource(ctx context.Context, orgID, actorID string, req *dto.AddResourceRequest) (*dto.ProratedChargeResponse, error)
	GetSubscription(ctx context.Context, orgID string) (*models.Subscription, error)
	PortalSession(ctx context.Context, orgID string) (string, error)

	// ExpireSubscription is the worker-side transition to EXPIRED; it keeps
	// the audit trail and version counter consistent with user actions.
	ExpireSubscription(ctx context.Context, subscriptionID string, reason models.CancelReason) error
}

type subscriptionService struct {
	tx        txRunner
	subRepo   repositories.SubscriptionRepository
	trialRepo repositories.TrialRepository
	usageRepo repositories.UsageRepository
	payments  provider.PaymentProvider
	cfg       *config.Config
	now       func() time.Time
}

// errTrialClaimLost aborts the creation transaction when a concurrent request
// claimed the user's trial after the pre-read said it was still available.
var errTrialClaimLost = errors.New("trial claim lost to concurrent request")

func NewSubscriptionService(
	db *gorm.DB,
	subRepo repositories.SubscriptionRepository,
	trialRepo repositories.TrialRepository,
	usageRepo repositories.UsageRepository,
	payments provider.PaymentProvider,
	cfg *config.Config,
) SubscriptionService {
	return &subscriptionService{
		tx:        gormTxRunner(db),
		subRepo:   subRepo,
		trialRepo: trialRepo,
		usageRepo: usageRepo,
		payments:  payments,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *subscriptionService) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ProviderTimeout())
}

func round2(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return v
}

// CreateSubscriptions creates one subscription per organization in the
// request. The trial gate decides TRIAL vs immediately billed ACTIVE for the
// whole batch; the claim commits in the same transaction as the rows.
func (s *subscriptionService) CreateSubscriptions(ctx context.Context, userID string, req *dto.CreateSubscriptionRequest) (*dto.CreateSubscriptionResponse, error) {
	now := s.now()

	seen := make(map[string]bool, len(req.Organizations))
	for _, orgID := range req.Organizations {
		if seen[orgID] {
			return nil, appErrors.ErrDuplicateOrganization.WithDetails(orgID)
		}
		seen[orgID] = true
	}

	standardPrice := decimal.Zero
	for _, item := range req.Items {
		standardPrice = standardPrice.Add(decimal.NewFromFloat(item.MonthlyPrice))
	}
	price, _ := standardPrice.Round(2).Float64()

	// Reject organizations with a live subscription before touching the
	// provider. The unique index re-arbitrates inside the transaction.
	for _, orgID := range req.Organizations {
		existing, err := s.subRepo.FindByOrganization(orgID)
		if err != nil {
			if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.CodeDatabaseError, "subscription lookup failed", 500)
		}
		if existing.Status.IsLive() || existing.IsCancellationPending() {
			return nil, appErrors.ErrAlreadySubscribed.WithDetails(orgID)
		}
	}

	firstTime, err := s.isFirstTimeUser(userID)
	if err != nil {
		return nil, err
	}

	customers := make(map[string]string, len(req.Organizations))
	providerSubs := make(map[string]string)
	for _, orgID := range req.Organizations {
		pctx, cancel := s.providerCtx(ctx)
		customerID, err := s.payments.CreateCustomer(pctx, orgID, req.PayerEmail)
		cancel()
		if err != nil {
			return nil, appErrors.ErrProvider.WithError(err)
		}
		customers[orgID] = customerID

		// Immediately billed path: the provider-side subscription is the
		// billing instrument, so its creation is a primary effect.
		if !firstTime {
			pctx, cancel := s.providerCtx(ctx)
			subID, err := s.payments.CreateSubscription(pctx, customerID, price, map[string]string{
				"organization_id": orgID,
			})
			cancel()
			if err != nil {
				return nil, appErrors.ErrProvider.WithError(err)
			}
			providerSubs[orgID] = subID
		}
	}

	createLocal := func() ([]*models.Subscription, error) {
		var created []*models.Subscription
		err := s.tx(func(tx *gorm.DB) error {
			isTrial, err := s.claimTrial(s.trialRepo.WithTx(tx), userID, req.Organizations, now)
			if err != nil {
				return err
			}
			// A concurrent request claimed the trial between the pre-read and
			// this transaction; the loser must be billed like any returning
			// user, with the provider-side subscriptions in place first.
			if firstTime && !isTrial {
				return errTrialClaimLost
			}

			txSubs := s.subRepo.WithTx(tx)
			for _, orgID := range req.Organizations {
				sub := &models.Subscription{
					OrganizationID:     orgID,
					PayerUserID:        userID,
					BillingCycle:       models.BillingCycleMonthly,
					StandardPrice:      price,
					StartedAt:          now,
					AutoRenew:          true,
					ProviderCustomerID: customers[orgID],
					SMSBudget:          s.cfg.Billing.DefaultSMSBudget,
					EmailBudget:        s.cfg.Billing.DefaultEmailBudget,
					Version:            1,
				}
				if isTrial {
					trialEnd := now.AddDate(0, 0, billing.TrialPeriodDays)
					sub.Status = models.SubscriptionStatusTrial
					sub.TrialEndsAt = &trialEnd
				} else {
					renewsAt := billing.NextRenewalDate(now.Day(), now)
					sub.Status = models.SubscriptionStatusActive
					sub.RenewsAt = &renewsAt
					sub.ProviderSubscriptionID = providerSubs[orgID]
				}

				if err := s.createOrRevive(txSubs, sub, now); err != nil {
					return err
				}

				if err := txSubs.AppendLog(&models.SubscriptionLog{
					SubscriptionID: sub.ID,
					Action:         models.ActionCreated,
					ToStatus:       sub.Status,
					ActorID:        userID,
				}); err != nil {
					return err
				}
				created = append(created, sub)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return created, nil
	}

	created, err := createLocal()
	if err != nil {
		if !errors.Is(err, errTrialClaimLost) {
			return nil, err
		}
		firstTime = false
		for _, orgID := range req.Organizations {
			pctx, cancel := s.providerCtx(ctx)
			subID, perr := s.payments.CreateSubscription(pctx, customers[orgID], price, map[string]string{
				"organization_id": orgID,
			})
			cancel()
			if perr != nil {
				return nil, appErrors.ErrProvider.WithError(perr)
			}
			providerSubs[orgID] = subID
		}
		created, err = createLocal()
		if err != nil {
			return nil, err
		}
	}

	resp := &dto.CreateSubscriptionResponse{}
	for _, sub := range created {
		resp.Subscriptions = append(resp.Subscriptions, dto.NewSubscriptionView(sub))
	}

	// The checkout URL lets the payer complete the payment-setup handshake.
	// Mirror-path failure: local intent is committed, portal covers recovery.
	if len(created) > 0 {
		pctx, cancel := s.providerCtx(ctx)
		session, err := s.payments.CreateCheckoutSession(pctx, created[0].ProviderCustomerID, map[string]string{
			"user_id":         userID,
			"organization_id": created[0].OrganizationID,
		})
		cancel()
		if err != nil {
			logger.CtxWarn(ctx, "checkout session creation failed", "error", err)
		} else {
			resp.CheckoutURL = session.URL
		}
	}
	return resp, nil
}

func (s *subscriptionService) isFirstTimeUser(userID string) (bool, error) {
	status, err := s.trialRepo.FindByUserID(userID)
	if err != nil {
		if appErrors.Is(err, repositories.ErrTrialStatusNotFound) {
			return true, nil
		}
		return false, appErrors.Wrap(err, appErrors.CodeDatabaseError, "trial status lookup failed", 500)
	}
	return !status.HasUsedTrial, nil
}

// claimTrial claims the one lifetime trial inside the creation transaction.
// Exactly one concurrent claimer wins; losers fall back to the billed path.
func (s *subscriptionService) claimTrial(trialRepo repositories.TrialRepository, userID string, orgs []string, now time.Time) (bool, error) {
	orgsJSON, err := json.Marshal(orgs)
	if err != nil {
		return false, err
	}

	status, err := trialRepo.FindByUserID(userID)
	switch {
	case err == nil && status.HasUsedTrial:
		return false, nil
	case err == nil:
		if err := trialRepo.MarkUsed(userID, now, datatypes.JSON(orgsJSON)); err != nil {
			if appErrors.Is(err, repositories.ErrTrialAlreadyUsed) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	case appErrors.Is(err, repositories.ErrTrialStatusNotFound):
		claim := &models.UserTrialStatus{
			UserID:        userID,
			HasUsedTrial:  true,
			TrialUsedAt:   &now,
			Organizations: datatypes.JSON(orgsJSON),
		}
		if err := trialRepo.Create(claim); err != nil {
			if appErrors.Is(err, gorm.ErrDuplicatedKey) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	default:
		return false, err
	}
}

// createOrRevive inserts the subscription, or reuses the organization's
// existing terminal row: subscriptions are never physically deleted, so a
// re-subscribe after EXPIRED rewrites the same aggregate.
func (s *subscriptionService) createOrRevive(txSubs repositories.SubscriptionRepository, sub *models.Subscription, now time.Time) error {
	existing, err := txSubs.FindByOrganization(sub.OrganizationID)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return txSubs.Create(sub)
		}
		return err
	}
	if existing.Status.IsLive() || existing.IsCancellationPending() {
		return appErrors.ErrAlreadySubscribed.WithDetails(sub.OrganizationID)
	}

	existing.Status = sub.Status
	existing.PayerUserID = sub.PayerUserID
	existing.BillingCycle = sub.BillingCycle
	existing.StandardPrice = sub.StandardPrice
	existing.StartedAt = now
	existing.RenewsAt = sub.RenewsAt
	existing.TrialEndsAt = sub.TrialEndsAt
	existing.GracePeriodEndsAt = nil
	existing.CancelledAt = nil
	existing.CancelReason = nil
	existing.AutoRenew = true
	existing.ProviderCustomerID = sub.ProviderCustomerID
	existing.ProviderSubscriptionID = sub.ProviderSubscriptionID
	existing.SMSSpent = 0
	existing.EmailSpent = 0
	existing.FiredAlerts = nil
	if err := txSubs.UpdateVersioned(existing); err != nil {
		return err
	}
	*sub = *existing
	return nil
}

// ActivateSubscription ends the trial and starts the paid period. Requires
// the provider-side payment-setup handshake to have completed.
func (s *subscriptionService) ActivateSubscription(ctx context.Context, orgID, userID string) (*dto.ActivateSubscriptionResponse, error) {
	sub, err := s.loadSubscription(orgID)
	if err != nil {
		return nil, err
	}
	if sub.IsCancellationPending() {
		return nil, appErrors.ErrAlreadyCancelled
	}
	if sub.Status != models.SubscriptionStatusTrial {
		return nil, appErrors.ErrInvalidStatus.WithDetails(sub.Status)
	}

	pctx, cancel := s.providerCtx(ctx)
	hasPM, err := s.payments.HasPaymentMethod(pctx, sub.ProviderCustomerID)
	cancel()
	if err != nil {
		return nil, appErrors.ErrProvider.WithError(err)
	}
	if !hasPM {
		return nil, appErrors.ErrPaymentSetupIncomplete
	}

	// Primary path: the activation charge. Failure aborts before any local
	// state changes.
	if sub.StandardPrice > 0 {
		pctx, cancel := s.providerCtx(ctx)
		_, err := s.payments.ChargeImmediate(pctx, sub.ProviderCustomerID, sub.StandardPrice, "Subscription activation")
		cancel()
		if err != nil {
			return nil, appErrors.ErrProvider.WithError(err)
		}
	}

	// The recurring provider subscription is a mirror of already-charged
	// local state; its failure is recovered by webhooks.
	providerSubID := sub.ProviderSubscriptionID
	if providerSubID == "" {
		pctx, cancel := s.providerCtx(ctx)
		providerSubID, err = s.payments.CreateSubscription(pctx, sub.ProviderCustomerID, sub.StandardPrice, map[string]string{
			"organization_id": orgID,
		})
		cancel()
		if err != nil {
			logger.CtxWarn(ctx, "provider subscription creation failed", "org_id", orgID, "error", err)
			providerSubID = ""
		}
	}

	var renewsAt time.Time
	err = withConflictRetry(ctx, func() error {
		fresh, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if fresh.Status != models.SubscriptionStatusTrial {
			return appErrors.ErrInvalidStatus.WithDetails(fresh.Status)
		}
		if fresh.IsCancellationPending() {
			return appErrors.ErrAlreadyCancelled
		}

		now := s.now()
		renewsAt = billing.NextRenewalDate(now.Day(), now)
		fromStatus := fresh.Status
		fresh.Status = models.SubscriptionStatusActive
		fresh.TrialEndsAt = &now
		fresh.RenewsAt = &renewsAt
		if providerSubID != "" {
			fresh.ProviderSubscriptionID = providerSubID
		}

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(fresh); err != nil {
				return err
			}
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: fresh.ID,
				Action:         models.ActionActivated,
				FromStatus:     fromStatus,
				ToStatus:       models.SubscriptionStatusActive,
				ActorID:        userID,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	return &dto.ActivateSubscriptionResponse{
		Status:   models.SubscriptionStatusActive,
		RenewsAt: renewsAt,
	}, nil
}

// CancelSubscription records the cancellation intent. Status stays unchanged
// so access continues until the paid period elapses.
func (s *subscriptionService) CancelSubscription(ctx context.Context, orgID, userID, reason string) (*dto.CancelSubscriptionResponse, error) {
	var (
		effective     time.Time
		providerSubID string
	)
	err := withConflictRetry(ctx, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if sub.CancelledAt != nil {
			return appErrors.ErrAlreadyCancelled
		}
		if !sub.Status.IsLive() {
			return appErrors.ErrInvalidStatus.WithDetails(sub.Status)
		}

		now := s.now()
		sub.CancelledAt = &now
		sub.CancelReason = &reason
		sub.AutoRenew = false
		providerSubID = sub.ProviderSubscriptionID

		switch {
		case sub.RenewsAt != nil:
			effective = *sub.RenewsAt
		case sub.TrialEndsAt != nil:
			effective = *sub.TrialEndsAt
		default:
			effective = now
		}

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(sub); err != nil {
				return err
			}
			detail, _ := json.Marshal(map[string]string{"reason": reason})
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: sub.ID,
				Action:         models.ActionCancelled,
				FromStatus:     sub.Status,
				ToStatus:       sub.Status,
				ActorID:        userID,
				Detail:         detail,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	// Mirror the cancel-at-period-end to the provider. Failure is swallowed:
	// local intent is recorded and the next webhook reconciles.
	if providerSubID != "" {
		pctx, cancel := s.providerCtx(ctx)
		if err := s.payments.CancelAtPeriodEnd(pctx, providerSubID); err != nil {
			logger.CtxWarn(ctx, "cancel mirror to provider failed", "org_id", orgID, "error", err)
		}
		cancel()
	}

	return &dto.CancelSubscriptionResponse{EffectiveDate: effective}, nil
}

// ReactivateSubscription clears a pending cancellation while the original
// period is still running.
func (s *subscriptionService) ReactivateSubscription(ctx context.Context, orgID, userID string) (*dto.ReactivateSubscriptionResponse, error) {
	var (
		resp          dto.ReactivateSubscriptionResponse
		providerSubID string
	)
	err := withConflictRetry(ctx, func() error {
		sub, err := s.loadSubscription(orgID)
		if err != nil {
			return err
		}
		if sub.CancelledAt == nil {
			return appErrors.ErrNotCancelled
		}
		now := s.now()
		if sub.PeriodElapsed(now) || sub.Status == models.SubscriptionStatusExpired {
			return appErrors.ErrPeriodElapsed
		}

		fromStatus := sub.Status
		sub.CancelledAt = nil
		sub.CancelReason = nil
		sub.AutoRenew = true
		if sub.Status == models.SubscriptionStatusCancelled {
			// Back-edge: a provider-side delete already mirrored, restore the
			// pre-cancellation state for the remaining period.
			if sub.TrialEndsAt != nil && now.Before(*sub.TrialEndsAt) {
				sub.Status = models.SubscriptionStatusTrial
			} else {
				sub.Status = models.SubscriptionStatusActive
			}
		}
		providerSubID = sub.ProviderSubscriptionID

		restored := dto.RestoredConfiguration{Resources: make(map[string]int)}
		for _, m := range sub.Modules {
			restored.Modules = append(restored.Modules, m.ModuleKey)
		}
		for _, r := range sub.Resources {
			restored.Resources[r.ResourceKey] = r.Quantity
		}
		resp = dto.ReactivateSubscriptionResponse{
			Status:                sub.Status,
			RenewsAt:              sub.RenewsAt,
			RestoredConfiguration: restored,
		}

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(sub); err != nil {
				return err
			}
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: sub.ID,
				Action:         models.ActionReactivated,
				FromStatus:     fromStatus,
				ToStatus:       sub.Status,
				ActorID:        userID,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if providerSubID != "" {
		pctx, cancel := s.providerCtx(ctx)
		if err := s.payments.SetAutoRenew(pctx, providerSubID, true); err != nil {
			logger.CtxWarn(ctx, "auto-renew mirror to provider failed", "org_id", orgID, "error", err)
		}
		cancel()
	}

	return &resp, nil
}

// AddModule attaches a module and records its day-prorated charge. The
// attachment, the usage row and the audit entry commit atomically.
func (s *subscriptionService) AddModule(ctx context.Context, orgID, actorID string, req *dto.AddModuleRequest) (*dto.ProratedChargeResponse, error) {
	var charge decimal.Decimal
	err := withConflictRetry(ctx, func() error {
		sub, err := s.loadAttachable(orgID)
		if err != nil {
			return err
		}

		if _, err := s.subRepo.FindActiveModule(sub.ID, req.ModuleKey); err == nil {
			return appErrors.ErrAlreadyAdded.WithDetails(req.ModuleKey)
		} else if !appErrors.Is(err, repositories.ErrModuleNotFound) {
			return err
		}

		now := s.now()
		charge = billing.ProratedCharge(decimal.NewFromFloat(req.MonthlyPrice), s.remainingDays(sub, now))

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)

			if err := txSubs.CreateModule(&models.SubscriptionModule{
				SubscriptionID: sub.ID,
				ModuleKey:      req.ModuleKey,
				MonthlyPrice:   req.MonthlyPrice,
				AddedAt:        now,
			}); err != nil {
				return err
			}

			if err := s.recordProration(tx, sub.ID, models.UsageTypeModuleProration, req.ModuleKey, 1, charge); err != nil {
				return err
			}

			sub.StandardPrice = round2(sub.StandardPrice + req.MonthlyPrice)
			if err := txSubs.UpdateVersioned(sub); err != nil {
				return err
			}

			detail, _ := json.Marshal(map[string]interface{}{
				"module_key":      req.ModuleKey,
				"prorated_charge": charge,
			})
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: sub.ID,
				Action:         models.ActionModuleAdded,
				FromStatus:     sub.Status,
				ToStatus:       sub.Status,
				ActorID:        actorID,
				Detail:         detail,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	v, _ := charge.Float64()
	return &dto.ProratedChargeResponse{ProratedCharge: v}, nil
}

// AddResource attaches a quantified resource; adding an existing resource
// type increases its quantity instead of duplicating the row.
func (s *subscriptionService) AddResource(ctx context.Context, orgID, actorID string, req *dto.AddResourceRequest) (*dto.ProratedChargeResponse, error) {
	var charge decimal.Decimal
	err := withConflictRetry(ctx, func() error {
		sub, err := s.loadAttachable(orgID)
		if err != nil {
			return err
		}

		existing, err := s.subRepo.FindActiveResource(sub.ID, req.ResourceKey)
		if err != nil && !appErrors.Is(err, repositories.ErrResourceNotFound) {
			return err
		}

		now := s.now()
		monthly := decimal.NewFromFloat(req.UnitPrice).Mul(decimal.NewFromInt(int64(req.Quantity)))
		charge = billing.ProratedCharge(monthly, s.remainingDays(sub, now))
		addedPrice, _ := monthly.Round(2).Float64()

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)

			if existing != nil {
				if err := txSubs.AddResourceQuantity(existing.ID, req.Quantity); err != nil {
					return err
				}
			} else {
				if err := txSubs.CreateResource(&models.SubscriptionResource{
					SubscriptionID: sub.ID,
					ResourceKey:    req.ResourceKey,
					Quantity:       req.Quantity,
					UnitPrice:      req.UnitPrice,
					AddedAt:        now,
				}); err != nil {
					return err
				}
			}

			if err := s.recordProration(tx, sub.ID, models.UsageTypeResourceProration, req.ResourceKey, req.Quantity, charge); err != nil {
				return err
			}

			sub.StandardPrice = round2(sub.StandardPrice + addedPrice)
			if err := txSubs.UpdateVersioned(sub); err != nil {
				return err
			}

			detail, _ := json.Marshal(map[string]interface{}{
				"resource_key":    req.ResourceKey,
				"quantity":        req.Quantity,
				"prorated_charge": charge,
			})
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: sub.ID,
				Action:         models.ActionResourceAdded,
				FromStatus:     sub.Status,
				ToStatus:       sub.Status,
				ActorID:        actorID,
				Detail:         detail,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	v, _ := charge.Float64()
	return &dto.ProratedChargeResponse{ProratedCharge: v}, nil
}

func (s *subscriptionService) GetSubscription(_ context.Context, orgID string) (*models.Subscription, error) {
	return s.loadSubscription(orgID)
}

func (s *subscriptionService) PortalSession(ctx context.Context, orgID string) (string, error) {
	sub, err := s.loadSubscription(orgID)
	if err != nil {
		return "", err
	}
	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	url, err := s.payments.CreatePortalSession(pctx, sub.ProviderCustomerID, "")
	if err != nil {
		return "", appErrors.ErrProvider.WithError(err)
	}
	return url, nil
}

func (s *subscriptionService) ExpireSubscription(ctx context.Context, subscriptionID string, reason models.CancelReason) error {
	return withConflictRetry(ctx, func() error {
		sub, err := s.subRepo.FindByID(subscriptionID)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case sub.Status == models.SubscriptionStatusExpired:
			return nil
		case sub.Status == models.SubscriptionStatusSuspended:
			// Expire when either the grace window or the paid period ran out.
			graceOver := sub.GracePeriodEndsAt != nil && !now.Before(*sub.GracePeriodEndsAt)
			if !graceOver && !sub.PeriodElapsed(now) {
				return nil
			}
		default:
			// The row may have activated or renewed since the sweep scan.
			if !sub.PeriodElapsed(now) {
				return nil
			}
		}

		fromStatus := sub.Status
		sub.Status = models.SubscriptionStatusExpired
		if sub.CancelReason == nil {
			r := string(reason)
			sub.CancelReason = &r
		}
		sub.AutoRenew = false

		return s.tx(func(tx *gorm.DB) error {
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(sub); err != nil {
				return err
			}
			return txSubs.AppendLog(&models.SubscriptionLog{
				SubscriptionID: sub.ID,
				Action:         models.ActionExpired,
				FromStatus:     fromStatus,
				ToStatus:       models.SubscriptionStatusExpired,
				ActorID:        "system",
			})
		})
	})
}

// Helpers

func (s *subscriptionService) loadSubscription(orgID string) (*models.Subscription, error) {
	sub, err := s.subRepo.FindByOrganization(orgID)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, appErrors.ErrSubscriptionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.CodeDatabaseError, "subscription lookup failed", 500)
	}
	return sub, nil
}

// loadAttachable loads a subscription that may receive module/resource
// attachments: ACTIVE or TRIAL and no pending cancellation.
func (s *subscriptionService) loadAttachable(orgID string) (*models.Subscription, error) {
	sub, err := s.loadSubscription(orgID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusTrial {
		return nil, appErrors.ErrInvalidStatus.WithDetails(sub.Status)
	}
	if sub.IsCancellationPending() {
		return nil, appErrors.ErrAlreadyCancelled
	}
	return sub, nil
}

func (s *subscriptionService) remainingDays(sub *models.Subscription, now time.Time) int {
	switch {
	case sub.RenewsAt != nil:
		return billing.RemainingDays(now, *sub.RenewsAt)
	case sub.TrialEndsAt != nil:
		return billing.RemainingDays(now, *sub.TrialEndsAt)
	}
	return 0
}

func (s *subscriptionService) recordProration(tx *gorm.DB, subscriptionID string, usageType models.UsageType, key string, qty int, charge decimal.Decimal) error {
	amount, _ := charge.Float64()
	return s.usageRepo.WithTx(tx).Create(&models.Usage{
		SubscriptionID: subscriptionID,
		Type:           usageType,
		Description:    key,
		Quantity:       qty,
		UnitPrice:      amount,
		Amount:         amount,
		IsFree:         charge.IsZero(),
	})
}
