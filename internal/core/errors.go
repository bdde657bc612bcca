package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the broker services. The router maps these to
// caller-facing error codes; internal detail never leaks past that mapping.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrServiceDisabled  = errors.New("service configuration is disabled")
	ErrNotConfigured    = errors.New("service is not configured")
	ErrInvalidScopeType = errors.New("scope_type must be all or specific")
)

// InvalidCredentialsError carries every field violation found while
// validating submitted credentials against a service definition. Validation
// accumulates violations instead of failing fast so the user can fix the
// whole form in one pass.
type InvalidCredentialsError struct {
	ServiceKey string
	Violations []string
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials for %s: %s", e.ServiceKey, strings.Join(e.Violations, "; "))
}
