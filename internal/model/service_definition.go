package model

import "time"

// ServiceCategory groups catalog entries for browsing and filtering.
type ServiceCategory string

const (
	CategoryPayments      ServiceCategory = "payments"
	CategorySourceControl ServiceCategory = "source_control"
	CategoryModelProvider ServiceCategory = "model_provider"
	CategoryChat          ServiceCategory = "chat"
	CategoryOther         ServiceCategory = "other"
)

// CredentialRule is the declarative validation rule attached to a credential
// field. Rules are interpreted by the vault's validator, never compiled in,
// so new services can be onboarded without a release.
type CredentialRule struct {
	MinLength int    `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength int    `json:"max_length,omitempty" yaml:"max_length"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern"`
}

// CredentialField describes one credential the user must (or may) supply
// when configuring a service.
type CredentialField struct {
	Key        string          `json:"key" yaml:"key"`
	Label      string          `json:"label" yaml:"label"`
	Required   bool            `json:"required" yaml:"required"`
	Validation *CredentialRule `json:"validation,omitempty" yaml:"validation"`
}

// InvocationTemplate declares how a connector process for the service is
// launched. EnvMapping maps credential keys to the environment variable
// names the connector expects.
type InvocationTemplate struct {
	Command    string            `json:"command" yaml:"command"`
	Args       []string          `json:"args,omitempty" yaml:"args"`
	EnvMapping map[string]string `json:"env_mapping,omitempty" yaml:"env_mapping"`
}

// ServiceDefinition is one operator-curated catalog entry. ServiceKey is the
// immutable identity; end users never mutate definitions.
type ServiceDefinition struct {
	ID             string             `json:"id"`
	ServiceKey     string             `json:"service_key"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Category       ServiceCategory    `json:"category"`
	Credentials    []CredentialField  `json:"credentials"`
	Invocation     InvocationTemplate `json:"invocation"`
	HealthCheckURL string             `json:"health_check_url,omitempty"`
	IsAvailable    bool               `json:"is_available"`
	IsBeta         bool               `json:"is_beta"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
