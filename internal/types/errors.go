package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers use these instead of hardcoded strings so
// the HTTP mapping stays in one place.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPhone  ErrorCode = "validation_invalid_phone_number"
	ErrCodeValidationNegativeDelta ErrorCode = "validation_negative_delta"

	// Auth (400 for webhook verification, 401 for API keys)
	ErrCodeAuthSignatureMissing ErrorCode = "auth_signature_missing"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_signature_invalid"
	ErrCodeAuthSecretInvalid    ErrorCode = "auth_secret_invalid"
	ErrCodeAuthKeyInvalid       ErrorCode = "auth_api_key_invalid"
	ErrCodeAuthKeyRevoked       ErrorCode = "auth_api_key_revoked"

	// Limits (403/429)
	ErrCodeLimitMinutesExceeded   ErrorCode = "limit_voice_minutes_exceeded"
	ErrCodeLimitLocationsExceeded ErrorCode = "limit_locations_exceeded"

	// Not Found (404)
	ErrCodeNotFoundOrg        ErrorCode = "not_found_organization"
	ErrCodeNotFoundRestaurant ErrorCode = "not_found_restaurant"
	ErrCodeNotFoundPlan       ErrorCode = "not_found_plan"
	ErrCodeNotFoundCall       ErrorCode = "not_found_call"
	ErrCodeNotFoundAlert      ErrorCode = "not_found_alert"

	// Conflict (409)
	ErrCodeConflictDuplicateAlert ErrorCode = "conflict_duplicate_alert"
	ErrCodeConflictStaleEvent     ErrorCode = "conflict_stale_event"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmail       ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamChatOps     ErrorCode = "upstream_chatops_unavailable"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamDelivery    ErrorCode = "upstream_delivery_failed"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its HTTP status code. Unrecognized codes
// map to 500 as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	// Webhook verification failures are 400: providers treat the request as
	// malformed rather than unauthorized, and must never see business detail.
	case strings.HasPrefix(s, "auth_signature_"), c == ErrCodeAuthSecretInvalid:
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "limit_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError so the API layer can produce consistent
// envelopes and status codes, and callers can branch with errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates an AppError with the given code, message, and optional
// underlying cause.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates an AppError carrying structured details that
// are safe to return to clients.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
