package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
// The taxonomy is closed: every failure surfaced by the API maps to exactly one
// of these codes, and each code has a fixed HTTP status.
type ErrorCode string

// Request validation errors
const (
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeMissingField       ErrorCode = "missing_field"
	ErrCodeInvalidField       ErrorCode = "invalid_field"
	ErrCodeInvalidAmount      ErrorCode = "invalid_amount"
	ErrCodeInvalidSiteID      ErrorCode = "invalid_site_id"
	ErrCodeInvalidAppCode     ErrorCode = "invalid_app_code"
	ErrCodeInvalidPlayerCount ErrorCode = "invalid_player_count"
)

// Authentication and authorisation errors
const (
	// Token absent, malformed, signature invalid, or expired. Deliberately a
	// single code so callers cannot distinguish which check failed.
	ErrCodeInvalidToken ErrorCode = "invalid_token"

	// Token is valid but carries the wrong type claim for this endpoint
	// (e.g. an operator session token on a game auth endpoint). Kept distinct
	// from invalid_token so clients can self-diagnose.
	ErrCodeInvalidTokenType ErrorCode = "invalid_token_type"

	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeAccountLocked      ErrorCode = "account_locked"
	ErrCodePermissionDenied   ErrorCode = "permission_denied"
)

// Game authorisation rule errors
const (
	ErrCodeAppNotFound         ErrorCode = "app_not_found"
	ErrCodeAppNotAuthorized    ErrorCode = "app_not_authorized"
	ErrCodeSiteNotFound        ErrorCode = "site_not_found"
	ErrCodeSiteNotOwned        ErrorCode = "site_not_owned"
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"
)

// Session errors
const (
	ErrCodeSessionNotFound     ErrorCode = "session_not_found"
	ErrCodeSessionAccessDenied ErrorCode = "session_access_denied"
)

// Back-office resource errors
const (
	ErrCodeOperatorNotFound ErrorCode = "operator_not_found"
	ErrCodeRefundNotFound   ErrorCode = "refund_not_found"
	ErrCodeInvoiceNotFound  ErrorCode = "invoice_not_found"
	ErrCodeRequestNotFound  ErrorCode = "request_not_found"
	ErrCodeOrderNotFound    ErrorCode = "order_not_found"
	ErrCodeWebhookNotFound  ErrorCode = "webhook_not_found"

	// Illegal state-machine transition (e.g. approving an already-approved refund).
	ErrCodeInvalidState ErrorCode = "invalid_state"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Rule violations and validation failures are permanent; only internal
// faults (where the idempotency window absorbs a duplicate) may be retried.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeInternalError,
		ErrCodeDatabaseError:
		return true

	default:
		return false
	}
}

// HTTPStatus returns the fixed HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - schema / type / format violations
	case ErrCodeInvalidRequest,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidSiteID,
		ErrCodeInvalidAppCode,
		ErrCodeInvalidPlayerCount:
		return 400

	// 401 Unauthorized - token absent/malformed/expired, bad credentials
	case ErrCodeInvalidToken,
		ErrCodeInvalidCredentials:
		return 401

	// 402 Payment Required - prepaid balance below required amount
	case ErrCodeInsufficientBalance:
		return 402

	// 403 Forbidden - valid identity, disallowed action
	case ErrCodeInvalidTokenType,
		ErrCodeAccountLocked,
		ErrCodePermissionDenied,
		ErrCodeAppNotAuthorized,
		ErrCodeSiteNotOwned,
		ErrCodeSessionAccessDenied:
		return 403

	// 404 Not Found
	case ErrCodeAppNotFound,
		ErrCodeSiteNotFound,
		ErrCodeOperatorNotFound,
		ErrCodeSessionNotFound,
		ErrCodeRefundNotFound,
		ErrCodeInvoiceNotFound,
		ErrCodeRequestNotFound,
		ErrCodeOrderNotFound,
		ErrCodeWebhookNotFound:
		return 404

	// 409 Conflict - illegal state transitions
	case ErrCodeInvalidState:
		return 409

	// 500 Internal Server Error
	default:
		return 500
	}
}
