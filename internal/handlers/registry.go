package handlers

import "billing_backend/internal/services"

// AppHandlers holds every HTTP handler.
type AppHandlers struct {
	SubscriptionHandler *SubscriptionHandler
	UsageHandler        *UsageHandler
	WebhookHandler      *WebhookHandler
}

func NewAppHandlers(svc *services.ServiceContainer) *AppHandlers {
	base := NewBaseHandler()
	return &AppHandlers{
		SubscriptionHandler: NewSubscriptionHandler(base, svc.SubscriptionService),
		UsageHandler:        NewUsageHandler(base, svc.UsageService),
		WebhookHandler:      NewWebhookHandler(base, svc.WebhookService),
	}
}
