package router

import (
	"fmt"
	"net/http"

	"github.com/edvin/conduit/internal/model"
)

// Caller-facing error codes. The code is the stable contract; messages may
// change.
const (
	CodeInvalidAPIKey              = "INVALID_API_KEY"
	CodeIPNotAllowed               = "IP_NOT_ALLOWED"
	CodeRateLimitExceededMinute    = "RATE_LIMIT_EXCEEDED_MINUTE"
	CodeRateLimitExceededDay       = "RATE_LIMIT_EXCEEDED_DAY"
	CodeServiceNotInScope          = "SERVICE_NOT_IN_SCOPE"
	CodeActionNotAllowed           = "ACTION_NOT_ALLOWED"
	CodeServiceNotFound            = "SERVICE_NOT_FOUND"
	CodeServiceUnavailable         = "SERVICE_UNAVAILABLE"
	CodeServiceNotConfigured       = "SERVICE_NOT_CONFIGURED"
	CodeServiceNotEnabled          = "SERVICE_NOT_ENABLED"
	CodeCredentialDecryptionFailed = "CREDENTIAL_DECRYPTION_FAILED"
	CodeMCPConnectionError         = "MCP_CONNECTION_ERROR"
	CodeInternalError              = "INTERNAL_ERROR"
)

// RouteError is a structured rejection from one admission stage. Message and
// Details are safe for the caller; anything internal stays in the server log.
type RouteError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// usageStatus classifies the error for the usage log.
func (e *RouteError) usageStatus() model.UsageStatus {
	switch e.Code {
	case CodeInvalidAPIKey, CodeIPNotAllowed, CodeServiceNotInScope, CodeActionNotAllowed:
		return model.UsageUnauthorized
	case CodeRateLimitExceededMinute, CodeRateLimitExceededDay:
		return model.UsageRateLimited
	default:
		return model.UsageError
	}
}

func errInvalidAPIKey() *RouteError {
	return &RouteError{
		Code:       CodeInvalidAPIKey,
		Message:    "Invalid API key",
		HTTPStatus: http.StatusUnauthorized,
	}
}

func errIPNotAllowed() *RouteError {
	return &RouteError{
		Code:       CodeIPNotAllowed,
		Message:    "Caller IP is not on the key's allow-list",
		HTTPStatus: http.StatusForbidden,
	}
}

func errRateLimited(code string, details map[string]any) *RouteError {
	return &RouteError{
		Code:       code,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    details,
	}
}

func errServiceNotInScope(serviceKey string) *RouteError {
	return &RouteError{
		Code:       CodeServiceNotInScope,
		Message:    fmt.Sprintf("API key is not scoped for service %q", serviceKey),
		HTTPStatus: http.StatusForbidden,
	}
}

func errActionNotAllowed(action string) *RouteError {
	return &RouteError{
		Code:       CodeActionNotAllowed,
		Message:    fmt.Sprintf("API key does not permit action %q", action),
		HTTPStatus: http.StatusForbidden,
	}
}

func errServiceNotFound(serviceKey string) *RouteError {
	return &RouteError{
		Code:       CodeServiceNotFound,
		Message:    fmt.Sprintf("Unknown service %q", serviceKey),
		HTTPStatus: http.StatusNotFound,
	}
}

func errServiceUnavailable(serviceKey string) *RouteError {
	return &RouteError{
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf("Service %q is currently unavailable", serviceKey),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

func errServiceNotConfigured(serviceKey string) *RouteError {
	return &RouteError{
		Code:       CodeServiceNotConfigured,
		Message:    fmt.Sprintf("Service %q is not configured for this account", serviceKey),
		HTTPStatus: http.StatusBadRequest,
	}
}

func errServiceNotEnabled(serviceKey string) *RouteError {
	return &RouteError{
		Code:       CodeServiceNotEnabled,
		Message:    fmt.Sprintf("Service %q is configured but disabled", serviceKey),
		HTTPStatus: http.StatusBadRequest,
	}
}

func errCredentialDecryption() *RouteError {
	return &RouteError{
		Code:       CodeCredentialDecryptionFailed,
		Message:    "Stored credentials could not be decrypted",
		HTTPStatus: http.StatusInternalServerError,
	}
}

func errExecution() *RouteError {
	return &RouteError{
		Code:       CodeMCPConnectionError,
		Message:    "Service execution failed",
		HTTPStatus: http.StatusBadGateway,
	}
}

func errInternal() *RouteError {
	return &RouteError{
		Code:       CodeInternalError,
		Message:    "Internal error",
		HTTPStatus: http.StatusInternalServerError,
	}
}
