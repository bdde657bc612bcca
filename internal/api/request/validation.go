package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/conduit/internal/model"
)

var validate = validator.New()

// Service keys are lowercase slugs: "stripe", "github", "openai".
var serviceKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func init() {
	validate.RegisterValidation("servicekey", func(fl validator.FieldLevel) bool {
		return serviceKeyRegex.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("environment", func(fl validator.FieldLevel) bool {
		return model.ValidEnvironment(model.Environment(fl.Field().String()))
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	return s, nil
}

// Environment parses the optional environment query parameter, defaulting
// to production.
func Environment(r *http.Request) (model.Environment, error) {
	raw := r.URL.Query().Get("environment")
	if raw == "" {
		return model.EnvProduction, nil
	}
	env := model.Environment(raw)
	if !model.ValidEnvironment(env) {
		return "", fmt.Errorf("unknown environment %q", raw)
	}
	return env, nil
}
