package repositories

import (
	"errors"
	"time"

	"billing_backend/internal/models"

	"gorm.io/gorm"
)

var ErrEventNotFound = errors.New("webhook event not found")

type WebhookEventRepository interface {
	WithTx(tx *gorm.DB) WebhookEventRepository

	FindByProviderEventID(providerEventID string) (*models.ProcessedWebhookEvent, error)
	Create(event *models.ProcessedWebhookEvent) error

	// IncrementAttempts records a redelivery of an already-seen event.
	IncrementAttempts(providerEventID string) error

	MarkProcessed(providerEventID string, at time.Time) error
	MarkFailed(providerEventID string, processingErr string) error
}

type WebhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{db: db}
}

func (r *WebhookEventRepositoryImpl) WithTx(tx *gorm.DB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{db: tx}
}

func (r *WebhookEventRepositoryImpl) FindByProviderEventID(providerEventID string) (*models.ProcessedWebhookEvent, error) {
	var event models.ProcessedWebhookEvent
	err := r.db.First(&event, "provider_event_id = ?", providerEventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *WebhookEventRepositoryImpl) Create(event *models.ProcessedWebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *WebhookEventRepositoryImpl) IncrementAttempts(providerEventID string) error {
	return r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *WebhookEventRepositoryImpl) MarkProcessed(providerEventID string, at time.Time) error {
	return r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": at,
			"last_error":   "",
		}).Error
}

func (r *WebhookEventRepositoryImpl) MarkFailed(providerEventID string, processingErr string) error {
	return r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(map[string]interface{}{
			"processed":  false,
			"last_error": processingErr,
		}).Error
}
