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
	"billing_backend/internal/dto"
	"billing_backend/internal/logger"
	"billing_backend/internal/models"
	"billing_backend/internal/repositories"
)

// errDuplicateIdempotencyKey signals that a concurrent request with the same
// idempotency key won the insert race inside the retry loop.
var errDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// alertThresholds are the budget percentages that fire at most once per
// billing cycle per channel.
var alertThresholds = []int{50, 80, 100}

type UsageService interface {
	// RecordUsage appends a usage record for the organization's live
	// subscription. A repeated idempotency key returns the original record
	// without a second charge or alert.
	RecordUsage(ctx context.Context, orgID string, req *dto.RecordUsageRequest) (*models.Usage, error)
	ListUsage(ctx context.Context, orgID string, limit int) ([]models.Usage, error)
	ListInvoices(ctx context.Context, orgID string, limit int) ([]models.Invoice, error)
}

type usageService struct {
	tx          txRunner
	subRepo     repositories.SubscriptionRepository
	usageRepo   repositories.UsageRepository
	invoiceRepo repositories.InvoiceRepository
	now         func() time.Time
}

func NewUsageService(
	db *gorm.DB,
	subRepo repositories.SubscriptionRepository,
	usageRepo repositories.UsageRepository,
	invoiceRepo repositories.InvoiceRepository,
) UsageService {
	return &usageService{
		tx:          gormTxRunner(db),
		subRepo:     subRepo,
		usageRepo:   usageRepo,
		invoiceRepo: invoiceRepo,
		now:         time.Now,
	}
}

func (s *usageService) RecordUsage(ctx context.Context, orgID string, req *dto.RecordUsageRequest) (*models.Usage, error) {
	sub, err := s.subRepo.FindByOrganization(orgID)
	if err != nil {
		if appErrors.Is(err, repositories.ErrSubscriptionNotFound) {
			return nil, appErrors.ErrSubscriptionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.CodeDatabaseError, "subscription lookup failed", 500)
	}
	if !sub.Status.IsLive() {
		return nil, appErrors.ErrInvalidStatus.WithDetails(sub.Status)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.usageRepo.FindByIdempotencyKey(req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !appErrors.Is(err, repositories.ErrUsageNotFound) {
			return nil, err
		}
	}

	amountDec := decimal.NewFromFloat(req.UnitPrice).
		Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2)
	amount, _ := amountDec.Float64()
	free := req.Free || amountDec.IsZero()

	usage := &models.Usage{
		SubscriptionID: sub.ID,
		Type:           req.Type,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Amount:         amount,
		IsFree:         free,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		usage.IdempotencyKey = &key
	}

	channel, budgeted := budgetChannel(req.Type)
	if !budgeted || free {
		if err := s.createUsage(usage, req.IdempotencyKey); err != nil {
			return nil, err
		}
		return usage, nil
	}

	// Budgeted channels update the cycle spend counter and may cross alert
	// thresholds; the usage row, the counter and the alert ledger commit
	// together.
	err = withConflictRetry(ctx, func() error {
		fresh, err := s.subRepo.FindByID(sub.ID)
		if err != nil {
			return err
		}

		spent, budget := channelSpend(fresh, channel)
		newSpent := round2(spent + amount)
		crossed := crossedThresholds(fresh, channel, spent, newSpent, budget)

		switch channel {
		case models.BudgetChannelSMS:
			fresh.SMSSpent = newSpent
		case models.BudgetChannelEmail:
			fresh.EmailSpent = newSpent
		}
		if len(crossed) > 0 {
			fresh.FiredAlerts = mergeFiredAlerts(fresh.FiredAlerts, channel, crossed)
		}

		return s.tx(func(tx *gorm.DB) error {
			if err := s.usageRepo.WithTx(tx).Create(usage); err != nil {
				if appErrors.Is(err, gorm.ErrDuplicatedKey) && req.IdempotencyKey != "" {
					return errDuplicateIdempotencyKey
				}
				return err
			}
			txSubs := s.subRepo.WithTx(tx)
			if err := txSubs.UpdateVersioned(fresh); err != nil {
				return err
			}
			for _, threshold := range crossed {
				logger.CtxWarn(ctx, "budget threshold crossed",
					"organization_id", orgID, "channel", channel,
					"threshold_pct", threshold, "spent", newSpent, "budget", budget)
				detail, _ := json.Marshal(map[string]interface{}{
					"channel":       channel,
					"threshold_pct": threshold,
					"spent":         newSpent,
					"budget":        budget,
				})
				if err := txSubs.AppendLog(&models.SubscriptionLog{
					SubscriptionID: fresh.ID,
					Action:         models.ActionBudgetAlert,
					FromStatus:     fresh.Status,
					ToStatus:       fresh.Status,
					ActorID:        "system",
					Detail:         detail,
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if appErrors.Is(err, errDuplicateIdempotencyKey) {
			return s.usageRepo.FindByIdempotencyKey(req.IdempotencyKey)
		}
		return nil, err
	}
	return usage, nil
}

func (s *usageService) createUsage(usage *models.Usage, idempotencyKey string) error {
	err := s.usageRepo.Create(usage)
	if err == nil {
		return nil
	}
	// Duplicate key on the idempotency index: a concurrent request with the
	// same key won; return its record.
	if appErrors.Is(err, gorm.ErrDuplicatedKey) && idempotencyKey != "" {
		existing, findErr := s.usageRepo.FindByIdempotencyKey(idempotencyKey)
		if findErr != nil {
			return findErr
		}
		*usage = *existing
		return nil
	}
	return err
}

func (s *usageService) ListUsage(_ context.Context, orgID string, limit int) ([]models.Usage, error) {
	sub, err := s.subRepo.FindByOrganization(orgID)
	if err != nil {
		return nil, appErrors.ErrSubscriptionNotFound
	}
	return s.usageRepo.FindBySubscription(sub.ID, limit)
}

func (s *usageService) ListInvoices(_ context.Context, orgID string, limit int) ([]models.Invoice, error) {
	sub, err := s.subRepo.FindByOrganization(orgID)
	if err != nil {
		return nil, appErrors.ErrSubscriptionNotFound
	}
	return s.invoiceRepo.FindBySubscription(sub.ID, limit)
}

func budgetChannel(t models.UsageType) (models.BudgetChannel, bool) {
	switch t {
	case models.UsageTypeSMS:
		return models.BudgetChannelSMS, true
	case models.UsageTypeEmail:
		return models.BudgetChannelEmail, true
	}
	return "", false
}

func channelSpend(sub *models.Subscription, channel models.BudgetChannel) (spent, budget float64) {
	switch channel {
	case models.BudgetChannelSMS:
		return sub.SMSSpent, sub.SMSBudget
	case models.BudgetChannelEmail:
		return sub.EmailSpent, sub.EmailBudget
	}
	return 0, 0
}

// crossedThresholds returns the alert percentages newly reached by this
// spend, excluding any already fired this cycle.
func crossedThresholds(sub *models.Subscription, channel models.BudgetChannel, oldSpent, newSpent, budget float64) []int {
	if budget <= 0 {
		return nil
	}
	fired := firedForChannel(sub.FiredAlerts, channel)
	var crossed []int
	for _, pct := range alertThresholds {
		mark := budget * float64(pct) / 100
		if newSpent >= mark && oldSpent < mark && !fired[pct] {
			crossed = append(crossed, pct)
		}
	}
	return crossed
}

func firedForChannel(raw datatypes.JSON, channel models.BudgetChannel) map[int]bool {
	out := make(map[int]bool)
	if len(raw) == 0 {
		return out
	}
	var fired map[string][]int
	if err := json.Unmarshal(raw, &fired); err != nil {
		return out
	}
	for _, pct := range fired[string(channel)] {
		out[pct] = true
	}
	return out
}

func mergeFiredAlerts(raw datatypes.JSON, channel models.BudgetChannel, crossed []int) datatypes.JSON {
	fired := make(map[string][]int)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fired)
	}
	fired[string(channel)] = append(fired[string(channel)], crossed...)
	merged, _ := json.Marshal(fired)
	return datatypes.JSON(merged)
}
