package request

// ConfigureService is the body for configuring a service in the vault.
type ConfigureService struct {
	Credentials map[string]string `json:"credentials" validate:"required"`
	Environment string            `json:"environment,omitempty" validate:"omitempty,environment"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// UpdateCredentials replaces the stored credentials of a configuration.
type UpdateCredentials struct {
	Credentials map[string]string `json:"credentials" validate:"required"`
	Environment string            `json:"environment,omitempty" validate:"omitempty,environment"`
}

// ToggleService flips a configuration's enabled flag.
type ToggleService struct {
	Enabled     bool   `json:"enabled"`
	Environment string `json:"environment,omitempty" validate:"omitempty,environment"`
}

// TestConnection probes a configuration's health endpoint, optionally with
// candidate credentials instead of the stored ones.
type TestConnection struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	Environment string            `json:"environment,omitempty" validate:"omitempty,environment"`
}
