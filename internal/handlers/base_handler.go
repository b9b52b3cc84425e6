package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/logger"
)

type BaseHandler struct{}

func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates the request body. On failure it writes the
// error envelope and returns false.
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		logger.CtxWarn(c.Request.Context(), "request body validation failed",
			"path", c.Request.URL.Path, "error", err)
		appErrors.HandleGinError(c, appErrors.New(
			appErrors.CodeValidationFailed, "Invalid request body: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

// OrgID returns the :orgId path parameter, writing a 400 when missing.
func (h *BaseHandler) OrgID(c *gin.Context) (string, bool) {
	orgID := c.Param("orgId")
	if orgID == "" {
		appErrors.HandleGinError(c, appErrors.New(
			appErrors.CodeValidationFailed, "organization id is required", http.StatusBadRequest))
		return "", false
	}
	return orgID, true
}
