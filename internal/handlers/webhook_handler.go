package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/logger"
	"billing_backend/internal/services"
)

// maxWebhookBody bounds provider webhook payloads.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*BaseHandler
	webhookService services.WebhookService
}

func NewWebhookHandler(base *BaseHandler, webhookService services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    base,
		webhookService: webhookService,
	}
}

// RegisterRoutes mounts the unauthenticated provider callback. Authenticity
// comes from the payload signature, not a bearer token.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/provider", h.HandleProviderWebhook)
}

func (h *WebhookHandler) HandleProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "webhook body read failed", "error", err)
		appErrors.HandleGinError(c, appErrors.New(
			appErrors.CodeValidationFailed, "unreadable payload", http.StatusBadRequest))
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := h.webhookService.ProcessWebhook(c.Request.Context(), payload, signature); err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
