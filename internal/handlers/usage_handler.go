package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/dto"
	"billing_backend/internal/middleware"
	"billing_backend/internal/services"
)

const defaultListLimit = 50

type UsageHandler struct {
	*BaseHandler
	usageService services.UsageService
}

func NewUsageHandler(base *BaseHandler, usageService services.UsageService) *UsageHandler {
	return &UsageHandler{
		BaseHandler:  base,
		usageService: usageService,
	}
}

func (h *UsageHandler) RegisterRoutes(r *gin.RouterGroup) {
	usage := r.Group("/subscriptions/:orgId")
	usage.Use(middleware.AuthMiddleware())
	{
		usage.POST("/usage", h.RecordUsage)
		usage.GET("/usage", h.ListUsage)
		usage.GET("/invoices", h.ListInvoices)
	}
}

func (h *UsageHandler) RecordUsage(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	var req dto.RecordUsageRequest
	if !h.BindJSON(c, &req) {
		return
	}
	usage, err := h.usageService.RecordUsage(c.Request.Context(), orgID, &req)
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusCreated, usage)
}

func (h *UsageHandler) ListUsage(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	usages, err := h.usageService.ListUsage(c.Request.Context(), orgID, listLimit(c))
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usages})
}

func (h *UsageHandler) ListInvoices(c *gin.Context) {
	orgID, ok := h.OrgID(c)
	if !ok {
		return
	}
	invoices, err := h.usageService.ListInvoices(c.Request.Context(), orgID, listLimit(c))
	if err != nil {
		appErrors.HandleGinError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}
