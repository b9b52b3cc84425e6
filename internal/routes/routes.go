package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/handlers"
)

// RegisterRoutes mounts all HTTP routes.
func RegisterRoutes(ginRouter *gin.Engine, appHandlers *handlers.AppHandlers) {
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := ginRouter.Group("/api/v1")
	{
		appHandlers.SubscriptionHandler.RegisterRoutes(api)
		appHandlers.UsageHandler.RegisterRoutes(api)
		appHandlers.WebhookHandler.RegisterRoutes(api)
	}
}
