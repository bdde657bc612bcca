package request

// CredentialRule mirrors the declarative validation of a credential field.
type CredentialRule struct {
	MinLength int    `json:"min_length,omitempty" validate:"omitempty,min=0"`
	MaxLength int    `json:"max_length,omitempty" validate:"omitempty,min=0"`
	Pattern   string `json:"pattern,omitempty"`
}

// CredentialField declares one credential a service requires.
type CredentialField struct {
	Key        string          `json:"key" validate:"required"`
	Label      string          `json:"label" validate:"required"`
	Required   bool            `json:"required"`
	Validation *CredentialRule `json:"validation,omitempty"`
}

// Invocation declares how the connector process is launched.
type Invocation struct {
	Command    string            `json:"command" validate:"required"`
	Args       []string          `json:"args,omitempty"`
	EnvMapping map[string]string `json:"env_mapping,omitempty"`
}

// UpsertDefinition is the admin body for adding or updating a catalog entry.
type UpsertDefinition struct {
	ServiceKey     string            `json:"service_key" validate:"required,servicekey"`
	Name           string            `json:"name" validate:"required,max=128"`
	Description    string            `json:"description"`
	Category       string            `json:"category" validate:"required,oneof=payments source_control model_provider chat other"`
	Credentials    []CredentialField `json:"credentials" validate:"dive"`
	Invocation     Invocation        `json:"invocation"`
	HealthCheckURL string            `json:"health_check_url,omitempty" validate:"omitempty,url"`
	IsAvailable    *bool             `json:"is_available,omitempty"`
	IsBeta         bool              `json:"is_beta"`
}
