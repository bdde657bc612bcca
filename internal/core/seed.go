package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edvin/conduit/internal/model"
)

// seedFile is the on-disk shape of a catalog seed document.
type seedFile struct {
	Services []seedService `yaml:"services"`
}

type seedService struct {
	ServiceKey     string                   `yaml:"service_key"`
	Name           string                   `yaml:"name"`
	Description    string                   `yaml:"description"`
	Category       model.ServiceCategory    `yaml:"category"`
	Credentials    []model.CredentialField  `yaml:"credentials"`
	Invocation     model.InvocationTemplate `yaml:"invocation"`
	HealthCheckURL string                   `yaml:"health_check_url"`
	IsAvailable    bool                     `yaml:"is_available"`
	IsBeta         bool                     `yaml:"is_beta"`
}

// SeedFromFile upserts the service definitions declared in a YAML seed file.
// Existing entries (matched on service_key) are updated in place so operators
// can evolve credential schemas by editing the seed and restarting.
func (s *CatalogService) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog seed %s: %w", path, err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}

	count := 0
	for _, svc := range file.Services {
		if svc.ServiceKey == "" {
			return count, fmt.Errorf("catalog seed %s: entry %d has no service_key", path, count)
		}
		def := &model.ServiceDefinition{
			ServiceKey:     svc.ServiceKey,
			Name:           svc.Name,
			Description:    svc.Description,
			Category:       svc.Category,
			Credentials:    svc.Credentials,
			Invocation:     svc.Invocation,
			HealthCheckURL: svc.HealthCheckURL,
			IsAvailable:    svc.IsAvailable,
			IsBeta:         svc.IsBeta,
		}
		if err := s.Update(ctx, def); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return count, err
			}
			if err := s.Add(ctx, def); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}
