package model

import "time"

// Environment separates a user's configurations of the same service.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ValidEnvironment reports whether e is one of the known environments.
func ValidEnvironment(e Environment) bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// HealthStatus is the last known probe result for a configuration.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// UserServiceConfig is a user's encrypted configuration of one service in
// one environment. EncryptedCredentials is opaque ciphertext and is never
// serialized to callers or logs.
type UserServiceConfig struct {
	ID                   string       `json:"id"`
	UserID               string       `json:"user_id"`
	ServiceKey           string       `json:"service_key"`
	Environment          Environment  `json:"environment"`
	EncryptedCredentials string       `json:"-"`
	IsEnabled            bool         `json:"is_enabled"`
	HealthStatus         HealthStatus `json:"health_status"`
	TotalCalls           int64        `json:"total_calls"`
	SuccessfulCalls      int64        `json:"successful_calls"`
	FailedCalls          int64        `json:"failed_calls"`
	LastUsedAt           *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}
