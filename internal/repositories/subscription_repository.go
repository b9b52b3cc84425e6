package repositories

import (
	"errors"
	"time"

	"billing_backend/internal/models"

	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrModuleNotFound       = errors.New("subscription module not found")
	ErrResourceNotFound     = errors.New("subscription resource not found")

	// ErrVersionConflict means the guarded update matched zero rows: another
	// writer bumped the version first. Callers retry with a fresh read.
	ErrVersionConflict = errors.New("subscription version conflict")
)

type SubscriptionRepository interface {
	// WithTx returns a copy of the repository bound to the transaction.
	WithTx(tx *gorm.DB) SubscriptionRepository

	Create(sub *models.Subscription) error
	FindByOrganization(orgID string) (*models.Subscription, error)
	FindByID(id string) (*models.Subscription, error)
	FindByProviderSubscriptionID(providerSubID string) (*models.Subscription, error)
	FindByProviderCustomerID(providerCustomerID string) (*models.Subscription, error)

	// UpdateVersioned writes the subscription guarded by its current Version
	// and increments it. Returns ErrVersionConflict when the row has moved.
	UpdateVersioned(sub *models.Subscription) error

	// Worker scans
	FindCancelledPastPeriod(now time.Time) ([]models.Subscription, error)
	FindTrialsPastEnd(now time.Time) ([]models.Subscription, error)
	FindSuspendedPastGrace(now time.Time) ([]models.Subscription, error)

	// Module / resource attachments
	FindActiveModule(subscriptionID, moduleKey string) (*models.SubscriptionModule, error)
	CreateModule(module *models.SubscriptionModule) error
	FindActiveResource(subscriptionID, resourceKey string) (*models.SubscriptionResource, error)
	CreateResource(resource *models.SubscriptionResource) error
	AddResourceQuantity(resourceID string, delta int) error

	// Audit trail (append-only)
	AppendLog(entry *models.SubscriptionLog) error
	FindLogs(subscriptionID string, limit int) ([]models.SubscriptionLog, error)
}

type SubscriptionRepositoryImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &SubscriptionRepositoryImpl{db: db}
}

func (r *SubscriptionRepositoryImpl) WithTx(tx *gorm.DB) SubscriptionRepository {
	return &SubscriptionRepositoryImpl{db: tx}
}

func (r *SubscriptionRepositoryImpl) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepositoryImpl) findOne(query string, args ...interface{}) (*models.Subscription, error) {
	var sub models.Subscription
	conds := append([]interface{}{query}, args...)
	err := r.db.
		Preload("Modules", "removed_at IS NULL").
		Preload("Resources", "removed_at IS NULL").
		First(&sub, conds...).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepositoryImpl) FindByOrganization(orgID string) (*models.Subscription, error) {
	return r.findOne("organization_id = ?", orgID)
}

func (r *SubscriptionRepositoryImpl) FindByID(id string) (*models.Subscription, error) {
	return r.findOne("id = ?", id)
}

func (r *SubscriptionRepositoryImpl) FindByProviderSubscriptionID(providerSubID string) (*models.Subscription, error) {
	return r.findOne("provider_subscription_id = ?", providerSubID)
}

func (r *SubscriptionRepositoryImpl) FindByProviderCustomerID(providerCustomerID string) (*models.Subscription, error) {
	return r.findOne("provider_customer_id = ?", providerCustomerID)
}

func (r *SubscriptionRepositoryImpl) UpdateVersioned(sub *models.Subscription) error {
	currentVersion := sub.Version

	res := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Updates(map[string]interface{}{
			"status":                   sub.Status,
			"billing_cycle":            sub.BillingCycle,
			"standard_price":           sub.StandardPrice,
			"started_at":               sub.StartedAt,
			"renews_at":                sub.RenewsAt,
			"trial_ends_at":            sub.TrialEndsAt,
			"grace_period_ends_at":     sub.GracePeriodEndsAt,
			"cancelled_at":             sub.CancelledAt,
			"cancel_reason":            sub.CancelReason,
			"auto_renew":               sub.AutoRenew,
			"provider_customer_id":     sub.ProviderCustomerID,
			"provider_subscription_id": sub.ProviderSubscriptionID,
			"provider_metadata":        sub.ProviderMetadata,
			"sms_budget":               sub.SMSBudget,
			"email_budget":             sub.EmailBudget,
			"sms_spent":                sub.SMSSpent,
			"email_spent":              sub.EmailSpent,
			"fired_alerts":             sub.FiredAlerts,
			"version":                  currentVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	sub.Version = currentVersion + 1
	return nil
}

func (r *SubscriptionRepositoryImpl) FindCancelledPastPeriod(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("cancelled_at IS NOT NULL AND renews_at IS NOT NULL AND renews_at <= ?", now).
		Where("status IN ?", []models.SubscriptionStatus{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusTrial,
			models.SubscriptionStatusSuspended,
			models.SubscriptionStatusCancelled,
		}).
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepositoryImpl) FindTrialsPastEnd(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?",
			models.SubscriptionStatusTrial, now).
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepositoryImpl) FindSuspendedPastGrace(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND grace_period_ends_at IS NOT NULL AND grace_period_ends_at <= ?",
			models.SubscriptionStatusSuspended, now).
		Find(&subs).Error
	return subs, err
}

// Module / resource attachments

func (r *SubscriptionRepositoryImpl) FindActiveModule(subscriptionID, moduleKey string) (*models.SubscriptionModule, error) {
	var module models.SubscriptionModule
	err := r.db.
		First(&module, "subscription_id = ? AND module_key = ? AND removed_at IS NULL", subscriptionID, moduleKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModuleNotFound
		}
		return nil, err
	}
	return &module, nil
}

func (r *SubscriptionRepositoryImpl) CreateModule(module *models.SubscriptionModule) error {
	return r.db.Create(module).Error
}

func (r *SubscriptionRepositoryImpl) FindActiveResource(subscriptionID, resourceKey string) (*models.SubscriptionResource, error) {
	var resource models.SubscriptionResource
	err := r.db.
		First(&resource, "subscription_id = ? AND resource_key = ? AND removed_at IS NULL", subscriptionID, resourceKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	return &resource, nil
}

func (r *SubscriptionRepositoryImpl) CreateResource(resource *models.SubscriptionResource) error {
	return r.db.Create(resource).Error
}

func (r *SubscriptionRepositoryImpl) AddResourceQuantity(resourceID string, delta int) error {
	return r.db.Model(&models.SubscriptionResource{}).
		Where("id = ?", resourceID).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", delta)).Error
}

// Audit trail

func (r *SubscriptionRepositoryImpl) AppendLog(entry *models.SubscriptionLog) error {
	return r.db.Create(entry).Error
}

func (r *SubscriptionRepositoryImpl) FindLogs(subscriptionID string, limit int) ([]models.SubscriptionLog, error) {
	var logs []models.SubscriptionLog
	q := r.db.Where("subscription_id = ?", subscriptionID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}
