package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
)

// CatalogService manages the operator-curated registry of integrable
// services. Read-mostly: end users only ever list and fetch definitions.
type CatalogService struct {
	db DB
}

func NewCatalogService(db DB) *CatalogService {
	return &CatalogService{db: db}
}

// CatalogFilters narrow a List call. Filters are AND-combined.
type CatalogFilters struct {
	Category    model.ServiceCategory
	Search      string
	IncludeBeta bool
}

const serviceDefinitionColumns = `id, service_key, name, description, category, credentials, invocation,
	 health_check_url, is_available, is_beta, created_at, updated_at`

func scanServiceDefinition(row interface{ Scan(dest ...any) error }) (model.ServiceDefinition, error) {
	var d model.ServiceDefinition
	var healthURL *string
	err := row.Scan(&d.ID, &d.ServiceKey, &d.Name, &d.Description, &d.Category,
		&d.Credentials, &d.Invocation, &healthURL, &d.IsAvailable, &d.IsBeta,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if healthURL != nil {
		d.HealthCheckURL = *healthURL
	}
	return d, nil
}

// List returns catalog entries matching the filters. Search matches name,
// description, or service key case-insensitively. Beta entries are hidden
// unless IncludeBeta is set.
func (s *CatalogService) List(ctx context.Context, filters CatalogFilters) ([]model.ServiceDefinition, error) {
	query := `SELECT ` + serviceDefinitionColumns + ` FROM service_definitions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, filters.Category)
		argIdx++
	}
	if filters.Search != "" {
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d OR service_key ILIKE $%d)`, argIdx, argIdx, argIdx)
		args = append(args, "%"+filters.Search+"%")
		argIdx++
	}
	if !filters.IncludeBeta {
		query += ` AND is_beta = false`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list service definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.ServiceDefinition
	for rows.Next() {
		d, err := scanServiceDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service definitions: %w", err)
	}
	return defs, nil
}

// GetByKey retrieves a service definition by its immutable key.
func (s *CatalogService) GetByKey(ctx context.Context, serviceKey string) (*model.ServiceDefinition, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+serviceDefinitionColumns+` FROM service_definitions WHERE service_key = $1`, serviceKey)
	d, err := scanServiceDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("service %s: %w", serviceKey, ErrNotFound)
		}
		return nil, fmt.Errorf("get service %s: %w", serviceKey, err)
	}
	return &d, nil
}

// ValidateCredentials checks submitted credentials against the definition's
// declarative field rules, accumulating one message per violated field.
func (s *CatalogService) ValidateCredentials(def *model.ServiceDefinition, submitted map[string]string) []string {
	var violations []string
	for _, field := range def.Credentials {
		value, present := submitted[field.Key]
		if !present || strings.TrimSpace(value) == "" {
			if field.Required {
				violations = append(violations, fmt.Sprintf("%s is required", field.Label))
			}
			continue
		}
		rule := field.Validation
		if rule == nil {
			continue
		}
		if rule.MinLength > 0 && len(value) < rule.MinLength {
			violations = append(violations, fmt.Sprintf("%s must be at least %d characters", field.Label, rule.MinLength))
		}
		if rule.MaxLength > 0 && len(value) > rule.MaxLength {
			violations = append(violations, fmt.Sprintf("%s must be at most %d characters", field.Label, rule.MaxLength))
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s has an invalid validation pattern", field.Label))
			} else if !re.MatchString(value) {
				violations = append(violations, fmt.Sprintf("%s has an invalid format", field.Label))
			}
		}
	}
	return violations
}

// Add inserts a new catalog entry. Privileged: reachable only through the
// admin surface.
func (s *CatalogService) Add(ctx context.Context, def *model.ServiceDefinition) error {
	if def.ID == "" {
		def.ID = platform.NewID()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	_, err := s.db.Exec(ctx,
		`INSERT INTO service_definitions (id, service_key, name, description, category, credentials, invocation, health_check_url, is_available, is_beta, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		def.ID, def.ServiceKey, def.Name, def.Description, def.Category,
		def.Credentials, def.Invocation, nullable(def.HealthCheckURL),
		def.IsAvailable, def.IsBeta, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert service definition %s: %w", def.ServiceKey, err)
	}
	return nil
}

// Update replaces the mutable fields of a catalog entry. The service key
// itself is immutable.
func (s *CatalogService) Update(ctx context.Context, def *model.ServiceDefinition) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE service_definitions
		 SET name = $1, description = $2, category = $3, credentials = $4, invocation = $5,
		     health_check_url = $6, is_available = $7, is_beta = $8, updated_at = now()
		 WHERE service_key = $9`,
		def.Name, def.Description, def.Category, def.Credentials, def.Invocation,
		nullable(def.HealthCheckURL), def.IsAvailable, def.IsBeta, def.ServiceKey,
	)
	if err != nil {
		return fmt.Errorf("update service definition %s: %w", def.ServiceKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s: %w", def.ServiceKey, ErrNotFound)
	}
	return nil
}

// Disable marks a catalog entry unavailable. The router rejects calls to a
// disabled service even for users who still have it configured.
func (s *CatalogService) Disable(ctx context.Context, serviceKey string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE service_definitions SET is_available = false, updated_at = now() WHERE service_key = $1`,
		serviceKey,
	)
	if err != nil {
		return fmt.Errorf("disable service %s: %w", serviceKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s: %w", serviceKey, ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
