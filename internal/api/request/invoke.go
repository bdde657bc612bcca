package request

// Invoke is the body of POST /api/v1/invoke.
type Invoke struct {
	Service     string         `json:"service" validate:"required,servicekey"`
	Action      string         `json:"action" validate:"required"`
	Params      map[string]any `json:"params"`
	Environment string         `json:"environment,omitempty" validate:"omitempty,environment"`
}
