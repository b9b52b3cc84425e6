package appErrors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/logger"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// HandleGinError translates any error into the coded JSON envelope. Unknown
// errors become INTERNAL_ERROR with details hidden outside debug mode.
func HandleGinError(c *gin.Context, err error) {
	var appErr *AppError
	if !As(err, &appErr) {
		appErr = InternalError(err)
	}

	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.Error("request failed", "code", appErr.Code, "error", err, "path", c.FullPath())
	}

	c.AbortWithStatusJSON(appErr.HTTPCode, ErrorResponse{Error: appErr})
}
