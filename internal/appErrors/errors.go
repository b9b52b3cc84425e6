package appErrors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an application error class.
type ErrorCode string

// AppError is the application error carried from services up to the HTTP
// layer.
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Details  interface{} `json:"details,omitempty"`
	Err      error       `json:"-"`
	HTTPCode int         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		HTTPCode: httpCode,
	}
}

func Wrap(err error, code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Err:      err,
		HTTPCode: httpCode,
	}
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	type alias struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}
	return json.Marshal(&alias{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// Is matches AppErrors by code so predeclared errors work with errors.Is even
// after WithDetails/WithError cloning.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func InternalError(err error) *AppError {
	return Wrap(err, CodeInternalError, "Internal server error", http.StatusInternalServerError)
}

// Predeclared domain errors
var (
	ErrUnauthorized = New(CodeUnauthorized, "Authentication required", http.StatusUnauthorized)
	ErrForbidden    = New(CodeForbidden, "Access denied", http.StatusForbidden)
	ErrInvalidToken = New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)

	// Validation errors: non-retryable, surfaced with their code.
	ErrSubscriptionNotFound   = New(CodeSubscriptionNotFound, "Subscription not found", http.StatusNotFound)
	ErrAlreadySubscribed      = New(CodeAlreadySubscribed, "Organization already has an active subscription", http.StatusConflict)
	ErrDuplicateOrganization  = New(CodeDuplicateOrganization, "Organization appears more than once in the request", http.StatusBadRequest)
	ErrInvalidStatus          = New(CodeInvalidStatus, "Subscription status does not permit this operation", http.StatusConflict)
	ErrAlreadyCancelled       = New(CodeAlreadyCancelled, "Subscription cancellation is already pending", http.StatusConflict)
	ErrNotCancelled           = New(CodeNotCancelled, "Subscription is not cancelled", http.StatusConflict)
	ErrPeriodElapsed          = New(CodePeriodElapsed, "Billing period has already elapsed", http.StatusConflict)
	ErrPaymentSetupIncomplete = New(CodePaymentSetupIncomplete, "Payment setup has not been completed", http.StatusPaymentRequired)
	ErrAlreadyAdded           = New(CodeAlreadyAdded, "Module is already attached to the subscription", http.StatusConflict)

	// Conflict: optimistic-lock retries exhausted, transient.
	ErrConflict = New(CodeConflict, "Concurrent update conflict, please retry", http.StatusConflict)

	// Provider outage on a primary path.
	ErrProvider = New(CodeProviderError, "Payment provider unavailable", http.StatusBadGateway)
)
