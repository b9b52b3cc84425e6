package appErrors

// Error codes grouped by domain. Codes are stable: clients match on them.
const (
	// Authentication
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Subscription lifecycle
	CodeSubscriptionNotFound   ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	CodeAlreadySubscribed      ErrorCode = "ALREADY_SUBSCRIBED"
	CodeDuplicateOrganization  ErrorCode = "DUPLICATE_ORGANIZATION"
	CodeInvalidStatus          ErrorCode = "INVALID_STATUS"
	CodeAlreadyCancelled       ErrorCode = "ALREADY_CANCELLED"
	CodeNotCancelled           ErrorCode = "NOT_CANCELLED"
	CodePeriodElapsed          ErrorCode = "PERIOD_ELAPSED"
	CodePaymentSetupIncomplete ErrorCode = "PAYMENT_SETUP_INCOMPLETE"
	CodeAlreadyAdded           ErrorCode = "ALREADY_ADDED"

	// Concurrency
	CodeConflict ErrorCode = "CONFLICT"

	// Webhooks
	CodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"

	// System
	CodeInternalError ErrorCode = "INTERNAL_ERROR"
	CodeDatabaseError ErrorCode = "DATABASE_ERROR"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)
