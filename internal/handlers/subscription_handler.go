package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/dto"
	"billing_backend/internal/middleware"
	"billing_backend/internal/services"
)

type SubscriptionHandler struct {
	*BaseHandler
	subscriptionService services.SubscriptionService
}

func NewSubscriptionHandler(base *BaseHandler, subscriptionService services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		BaseHandler:         base,
		subscriptionService: subscriptionService,
	}
}

func (h *SubscriptionHandler) RegisterRoutes(r *gin.RouterGroup) {
	subscriptions := r.Group("/subscriptions")
	subscriptions.Use(middleware.AuthMiddleware())
	{
		subscriptions.POST("/subscribe", h.CreateSubscriptions)
		subscriptions.GET("/:orgId", h.GetSubscription)
		subscriptions.POST("/:orgId/activate", h.ActivateSubscription)
		subscriptions.PUT("/:orgId/cancel", h.CancelSubscription)
		subscriptions.PUT("/:orgId/reactivate", h.ReactivateSubscription)
		subscriptions.POST("/:orgId/modules", h.AddModule)
		subscriptions.POST("/:orgId/resources", h.AddResource)
		subscriptions.GET("/:orgId/portal", h.PortalSession)
	}
}

func (h *SubscriptionHandler) CreateSubscriptions(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.subscriptionService.CreateSubscriptions(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	sub, err := h.subscriptionService.GetSubscription(c.Request.Context(), orgID)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSubscriptionView(sub))
}

func (h *SubscriptionHandler) ActivateSubscription(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	resp, err := h.subscriptionService.ActivateSubscription(c.Request.Context(), orgID, middleware.GetUserID(c))
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.CancelSubscriptionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.subscriptionService.CancelSubscription(c.Request.Context(), orgID, middleware.GetUserID(c), req.Reason)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SubscriptionHandler) ReactivateSubscription(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	resp, err := h.subscriptionService.ReactivateSubscription(c.Request.Context(), orgID, middleware.GetUserID(c))
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SubscriptionHandler) AddModule(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.AddModuleRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.subscriptionService.AddModule(c.Request.Context(), orgID, middleware.GetUserID(c), &req)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SubscriptionHandler) AddResource(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.AddResourceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.subscriptionService.AddResource(c.Request.Context(), orgID, middleware.GetUserID(c), &req)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SubscriptionHandler) PortalSession(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	url, err := h.subscriptionService.PortalSession(c.Request.Context(), orgID)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PortalSessionResponse{URL: url})
}
