package request

import "time"

// ScopeGrant declares one service grant on a specific-scoped key.
type ScopeGrant struct {
	ServiceKey     string   `json:"service_key" validate:"required,servicekey"`
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// CreateAPIKey is the body for issuing a new API key.
type CreateAPIKey struct {
	Name                string       `json:"name" validate:"required,max=128"`
	ScopeType           string       `json:"scope_type" validate:"required,oneof=all specific"`
	Scopes              []ScopeGrant `json:"scopes,omitempty" validate:"dive"`
	AllowedEnvironments []string     `json:"allowed_environments,omitempty" validate:"dive,environment"`
	RateLimitPerMinute  int          `json:"rate_limit_per_minute,omitempty" validate:"omitempty,min=1"`
	RateLimitPerDay     int          `json:"rate_limit_per_day,omitempty" validate:"omitempty,min=1"`
	AllowedIPs          []string     `json:"allowed_ips,omitempty" validate:"dive,ip"`
	ExpiresAt           *time.Time   `json:"expires_at,omitempty"`
}

// RevokeAPIKey carries the revocation reason shown back to the key's owner.
type RevokeAPIKey struct {
	Reason string `json:"reason" validate:"required,max=256"`
}
