package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/localrivet/npamcp/internal/apiclient"
	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/policy"
)

// Error codes returned in the error_code field of tool responses
const (
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeInvalidFormat       = "INVALID_FORMAT"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeTimeout             = "TIMEOUT"
	ErrorCodeCanceled            = "CANCELED"
	ErrorCodePermission          = "PERMISSION_ERROR"
	ErrorCodeDatabase            = "DATABASE_ERROR"
	ErrorCodeNetwork             = "NETWORK_ERROR"
	ErrorCodeAPI                 = "API_ERROR"
	ErrorCodeConfig              = "CONFIG_ERROR"
	ErrorCodeInternal            = "INTERNAL_ERROR"
	ErrorCodeExternal            = "EXTERNAL_ERROR"
	ErrorCodeUnknown             = "UNKNOWN_ERROR"
	ErrorCodeRemainingReferences = "REMAINING_REFERENCES"
	ErrorCodeJournalDisabled     = "JOURNAL_DISABLED"
	ErrorCodeDeletionBlocked     = "DELETION_BLOCKED"

	// Upstream HTTP failures
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeForbidden           = "FORBIDDEN"
	ErrorCodeUpstreamNotFound    = "UPSTREAM_NOT_FOUND"
	ErrorCodeRateLimited         = "RATE_LIMITED"
	ErrorCodeUpstreamClientError = "UPSTREAM_CLIENT_ERROR"
	ErrorCodeUpstreamServerError = "UPSTREAM_SERVER_ERROR"
)

var appErrorCodes = map[errortypes.ErrorType]string{
	errortypes.ErrorTypeValidation: ErrorCodeValidation,
	errortypes.ErrorTypeFormat:     ErrorCodeInvalidFormat,
	errortypes.ErrorTypeNotFound:   ErrorCodeNotFound,
	errortypes.ErrorTypeTimeout:    ErrorCodeTimeout,
	errortypes.ErrorTypePermission: ErrorCodePermission,
	errortypes.ErrorTypeDatabase:   ErrorCodeDatabase,
	errortypes.ErrorTypeNetwork:    ErrorCodeNetwork,
	errortypes.ErrorTypeAPI:        ErrorCodeAPI,
	errortypes.ErrorTypeConfig:     ErrorCodeConfig,
	errortypes.ErrorTypeInternal:   ErrorCodeInternal,
	errortypes.ErrorTypeExternal:   ErrorCodeExternal,
}

// ErrorCode classifies err for a tool response. Upstream HTTP statuses
// take precedence over the AppError that wraps them.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var remaining *policy.RemainingReferencesError
	if errors.As(err, &remaining) {
		return ErrorCodeRemainingReferences
	}

	if httpErr, ok := errortypes.AsHTTPError(err); ok {
		switch {
		case httpErr.Status == http.StatusUnauthorized:
			return ErrorCodeUnauthorized
		case httpErr.Status == http.StatusForbidden:
			return ErrorCodeForbidden
		case httpErr.Status == http.StatusNotFound:
			return ErrorCodeUpstreamNotFound
		case httpErr.Status == http.StatusTooManyRequests:
			return ErrorCodeRateLimited
		case httpErr.Status >= 500:
			return ErrorCodeUpstreamServerError
		default:
			return ErrorCodeUpstreamClientError
		}
	}

	if errors.Is(err, apiclient.ErrRateLimitExceedsDeadline) {
		return ErrorCodeRateLimited
	}

	if errortypes.IsTimeoutError(err) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCodeCanceled
	}

	var appErr *errortypes.AppError
	if errors.As(err, &appErr) {
		if code, ok := appErrorCodes[appErr.Type]; ok {
			return code
		}
	}
	return ErrorCodeUnknown
}
