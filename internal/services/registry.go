package services

import (
	"gorm.io/gorm"

	"billing_backend/internal/config"
	"billing_backend/internal/provider"
	"billing_backend/internal/repositories"
)

// ServiceContainer holds every application service.
type ServiceContainer struct {
	SubscriptionService SubscriptionService
	WebhookService      WebhookService
	UsageService        UsageService
}

func NewServiceContainer(db *gorm.DB, payments provider.PaymentProvider, cfg *config.Config) *ServiceContainer {
	subRepo := repositories.NewSubscriptionRepository(db)
	trialRepo := repositories.NewTrialRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	invoiceRepo := repositories.NewInvoiceRepository(db)
	eventRepo := repositories.NewWebhookEventRepository(db)

	return &ServiceContainer{
		SubscriptionService: NewSubscriptionService(db, subRepo, trialRepo, usageRepo, payments, cfg),
		WebhookService:      NewWebhookService(db, subRepo, invoiceRepo, usageRepo, eventRepo, payments, cfg),
		UsageService:        NewUsageService(db, subRepo, usageRepo, invoiceRepo),
	}
}
