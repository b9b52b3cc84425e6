package repositories

import (
	"errors"
	"time"

	"billing_backend/internal/models"

	"gorm.io/gorm"
)

var ErrUsageNotFound = errors.New("usage record not found")

type UsageRepository interface {
	WithTx(tx *gorm.DB) UsageRepository

	Create(usage *models.Usage) error
	FindByID(id string) (*models.Usage, error)
	FindByIdempotencyKey(key string) (*models.Usage, error)

	// FindUnbilled returns usage rows of the subscription created within the
	// period that have not been synced to an invoice yet.
	FindUnbilled(subscriptionID string, periodStart, periodEnd time.Time) ([]models.Usage, error)

	// MarkBilled stamps BilledAt, guarded so a row is billed at most once.
	// Returns ErrUsageNotFound when the row was already billed.
	MarkBilled(usageID string, at time.Time) error

	FindBySubscription(subscriptionID string, limit int) ([]models.Usage, error)
}

type UsageRepositoryImpl struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &UsageRepositoryImpl{db: db}
}

func (r *UsageRepositoryImpl) WithTx(tx *gorm.DB) UsageRepository {
	return &UsageRepositoryImpl{db: tx}
}

func (r *UsageRepositoryImpl) Create(usage *models.Usage) error {
	return r.db.Create(usage).Error
}

func (r *UsageRepositoryImpl) FindByID(id string) (*models.Usage, error) {
	var usage models.Usage
	err := r.db.First(&usage, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUsageNotFound
		}
		return nil, err
	}
	return &usage, nil
}

func (r *UsageRepositoryImpl) FindByIdempotencyKey(key string) (*models.Usage, error) {
	var usage models.Usage
	err := r.db.First(&usage, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUsageNotFound
		}
		return nil, err
	}
	return &usage, nil
}

func (r *UsageRepositoryImpl) FindUnbilled(subscriptionID string, periodStart, periodEnd time.Time) ([]models.Usage, error) {
	var rows []models.Usage
	err := r.db.
		Where("subscription_id = ? AND billed_at IS NULL", subscriptionID).
		Where("created_at >= ? AND created_at < ?", periodStart, periodEnd).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *UsageRepositoryImpl) MarkBilled(usageID string, at time.Time) error {
	res := r.db.Model(&models.Usage{}).
		Where("id = ? AND billed_at IS NULL", usageID).
		Update("billed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUsageNotFound
	}
	return nil
}

func (r *UsageRepositoryImpl) FindBySubscription(subscriptionID string, limit int) ([]models.Usage, error) {
	var rows []models.Usage
	q := r.db.Where("subscription_id = ?", subscriptionID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}
