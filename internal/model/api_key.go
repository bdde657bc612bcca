package model

import "time"

// ScopeType determines how an API key is authorized against services.
type ScopeType string

const (
	ScopeAll      ScopeType = "all"
	ScopeSpecific ScopeType = "specific"
)

// APIKey is a caller-facing credential for the broker. Only the SHA-256
// hash of the issued secret is stored; the raw secret is shown exactly once
// at creation time.
type APIKey struct {
	ID                  string        `json:"id"`
	UserID              string        `json:"user_id"`
	Name                string        `json:"name"`
	KeyHash             string        `json:"-"`
	KeyPrefix           string        `json:"key_prefix,omitempty"`
	ScopeType           ScopeType     `json:"scope_type"`
	// AllowedEnvironments is advisory: recorded at issuance and returned to
	// the owner, but not yet gated by the admission pipeline.
	AllowedEnvironments []Environment `json:"allowed_environments,omitempty"`
	RateLimitPerMinute  int           `json:"rate_limit_per_minute"`
	RateLimitPerDay     int           `json:"rate_limit_per_day"`
	AllowedIPs          []string      `json:"allowed_ips,omitempty"`
	ExpiresAt           *time.Time    `json:"expires_at,omitempty"`
	IsActive            bool          `json:"is_active"`
	RevokedAt           *time.Time    `json:"revoked_at,omitempty"`
	RevokedReason       *string       `json:"revoked_reason,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Expired reports whether the key has lapsed naturally.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// APIKeyScope is one service grant for a specific-scoped key. An empty
// AllowedActions list permits every action on the service.
type APIKeyScope struct {
	ID             string   `json:"id"`
	APIKeyID       string   `json:"api_key_id"`
	ServiceKey     string   `json:"service_key"`
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// RateLimitWindow is the granularity of a rate-limit bucket.
type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowDay    RateLimitWindow = "day"
)

// RateLimitCounter is one bucket of admitted calls for a key. WindowStart
// is floored to the window boundary.
type RateLimitCounter struct {
	APIKeyID    string          `json:"api_key_id"`
	WindowType  RateLimitWindow `json:"window_type"`
	WindowStart time.Time       `json:"window_start"`
	Count       int64           `json:"count"`
}
