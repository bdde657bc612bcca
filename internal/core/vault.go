package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/conduit/internal/crypto"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
)

// HealthProber issues a request against a service's declared health endpoint
// using credential-derived authentication and returns the HTTP status code.
type HealthProber interface {
	Probe(ctx context.Context, serviceKey, url string, credentials map[string]string) (int, error)
}

// VaultService stores per-user, per-environment encrypted service
// configurations. Credentials are validated against the catalog definition,
// encrypted at rest, and only decrypted transiently inside a single
// invocation's lifetime.
type VaultService struct {
	db      DB
	catalog *CatalogService
	key     []byte
	prober  HealthProber
}

func NewVaultService(db DB, catalog *CatalogService, encryptionKey []byte, prober HealthProber) *VaultService {
	return &VaultService{db: db, catalog: catalog, key: encryptionKey, prober: prober}
}

const serviceConfigColumns = `id, user_id, service_key, environment, encrypted_credentials, is_enabled,
	 health_status, total_calls, successful_calls, failed_calls, last_used_at, created_at, updated_at`

func scanServiceConfig(row interface{ Scan(dest ...any) error }) (model.UserServiceConfig, error) {
	var c model.UserServiceConfig
	err := row.Scan(&c.ID, &c.UserID, &c.ServiceKey, &c.Environment, &c.EncryptedCredentials,
		&c.IsEnabled, &c.HealthStatus, &c.TotalCalls, &c.SuccessfulCalls, &c.FailedCalls,
		&c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Configure validates, encrypts, and upserts a user's configuration of a
// service. Re-configuring an existing (user, service, environment) row
// replaces its credentials and enabled flag and resets health to unknown.
func (s *VaultService) Configure(ctx context.Context, userID, serviceKey string, credentials map[string]string, env model.Environment, enabled bool) (*model.UserServiceConfig, error) {
	def, err := s.catalog.GetByKey(ctx, serviceKey)
	if err != nil {
		return nil, err
	}

	if violations := s.catalog.ValidateCredentials(def, credentials); len(violations) > 0 {
		return nil, &InvalidCredentialsError{ServiceKey: serviceKey, Violations: violations}
	}

	ciphertext, err := s.encryptCredentials(credentials)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO user_service_configs
		   (id, user_id, service_key, environment, encrypted_credentials, is_enabled, health_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		 ON CONFLICT (user_id, service_key, environment) DO UPDATE
		   SET encrypted_credentials = EXCLUDED.encrypted_credentials,
		       is_enabled = EXCLUDED.is_enabled,
		       health_status = $7,
		       updated_at = now()
		 RETURNING `+serviceConfigColumns,
		platform.NewID(), userID, serviceKey, env, ciphertext, enabled, model.HealthUnknown,
	)
	cfg, err := scanServiceConfig(row)
	if err != nil {
		return nil, fmt.Errorf("upsert service config %s/%s: %w", serviceKey, env, err)
	}
	return &cfg, nil
}

// UpdateCredentials rotates the stored credentials for an existing
// configuration. Health resets to unknown until the next probe.
func (s *VaultService) UpdateCredentials(ctx context.Context, userID, serviceKey string, credentials map[string]string, env model.Environment) error {
	def, err := s.catalog.GetByKey(ctx, serviceKey)
	if err != nil {
		return err
	}
	if violations := s.catalog.ValidateCredentials(def, credentials); len(violations) > 0 {
		return &InvalidCredentialsError{ServiceKey: serviceKey, Violations: violations}
	}

	ciphertext, err := s.encryptCredentials(credentials)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE user_service_configs
		 SET encrypted_credentials = $1, health_status = $2, updated_at = now()
		 WHERE user_id = $3 AND service_key = $4 AND environment = $5`,
		ciphertext, model.HealthUnknown, userID, serviceKey, env,
	)
	if err != nil {
		return fmt.Errorf("update credentials %s/%s: %w", serviceKey, env, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config %s/%s: %w", serviceKey, env, ErrNotConfigured)
	}
	return nil
}

// Toggle enables or disables an existing configuration.
func (s *VaultService) Toggle(ctx context.Context, userID, serviceKey string, env model.Environment, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_service_configs SET is_enabled = $1, updated_at = now()
		 WHERE user_id = $2 AND service_key = $3 AND environment = $4`,
		enabled, userID, serviceKey, env,
	)
	if err != nil {
		return fmt.Errorf("toggle config %s/%s: %w", serviceKey, env, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config %s/%s: %w", serviceKey, env, ErrNotConfigured)
	}
	return nil
}

// Delete removes a configuration permanently.
func (s *VaultService) Delete(ctx context.Context, userID, serviceKey string, env model.Environment) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM user_service_configs WHERE user_id = $1 AND service_key = $2 AND environment = $3`,
		userID, serviceKey, env,
	)
	if err != nil {
		return fmt.Errorf("delete config %s/%s: %w", serviceKey, env, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config %s/%s: %w", serviceKey, env, ErrNotConfigured)
	}
	return nil
}

// Get retrieves one configuration scoped to its owner.
func (s *VaultService) Get(ctx context.Context, userID, serviceKey string, env model.Environment) (*model.UserServiceConfig, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+serviceConfigColumns+` FROM user_service_configs
		 WHERE user_id = $1 AND service_key = $2 AND environment = $3`,
		userID, serviceKey, env,
	)
	cfg, err := scanServiceConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("config %s/%s: %w", serviceKey, env, ErrNotConfigured)
		}
		return nil, fmt.Errorf("get service config %s/%s: %w", serviceKey, env, err)
	}
	return &cfg, nil
}

// ListByUser returns all of a user's configurations across environments.
func (s *VaultService) ListByUser(ctx context.Context, userID string) ([]model.UserServiceConfig, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+serviceConfigColumns+` FROM user_service_configs
		 WHERE user_id = $1 ORDER BY service_key, environment`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list service configs: %w", err)
	}
	defer rows.Close()

	var configs []model.UserServiceConfig
	for rows.Next() {
		c, err := scanServiceConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service configs: %w", err)
	}
	return configs, nil
}

// GetDecryptedCredentials returns the plaintext credentials for an enabled
// configuration. Internal callers only (router and execution pool); the
// plaintext never leaves an invocation's lifetime.
func (s *VaultService) GetDecryptedCredentials(ctx context.Context, userID, serviceKey string, env model.Environment) (map[string]string, error) {
	cfg, err := s.Get(ctx, userID, serviceKey, env)
	if err != nil {
		return nil, err
	}
	if !cfg.IsEnabled {
		return nil, fmt.Errorf("config %s/%s: %w", serviceKey, env, ErrServiceDisabled)
	}
	return s.decryptCredentials(cfg.EncryptedCredentials)
}

// HealthReport is the outcome of a connection test.
type HealthReport struct {
	Status  model.HealthStatus `json:"status"`
	Message string             `json:"message"`
	Probed  bool               `json:"probed"`
}

// TestConnection probes the service's declared health endpoint with the
// given credentials (or the stored ones when credentials is nil) and
// persists the resulting health status. Services without a health endpoint
// report success without a live probe.
func (s *VaultService) TestConnection(ctx context.Context, userID, serviceKey string, credentials map[string]string, env model.Environment) (*HealthReport, error) {
	def, err := s.catalog.GetByKey(ctx, serviceKey)
	if err != nil {
		return nil, err
	}

	if def.HealthCheckURL == "" {
		return &HealthReport{Status: model.HealthUnknown, Message: "service declares no health endpoint", Probed: false}, nil
	}

	if credentials == nil {
		cfg, err := s.Get(ctx, userID, serviceKey, env)
		if err != nil {
			return nil, err
		}
		credentials, err = s.decryptCredentials(cfg.EncryptedCredentials)
		if err != nil {
			return nil, err
		}
	}

	report := &HealthReport{Probed: true}
	statusCode, err := s.prober.Probe(ctx, serviceKey, def.HealthCheckURL, credentials)
	switch {
	case err != nil:
		report.Status = model.HealthUnhealthy
		report.Message = "health probe failed: " + err.Error()
	case statusCode >= 200 && statusCode < 300:
		report.Status = model.HealthHealthy
		report.Message = "connection ok"
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		report.Status = model.HealthUnhealthy
		report.Message = "authentication failed: check your credentials"
	default:
		report.Status = model.HealthUnhealthy
		report.Message = fmt.Sprintf("service returned HTTP %d", statusCode)
	}

	// Persist the probe result; a missing row (testing before configuring)
	// is not an error.
	_, err = s.db.Exec(ctx,
		`UPDATE user_service_configs SET health_status = $1, updated_at = now()
		 WHERE user_id = $2 AND service_key = $3 AND environment = $4`,
		report.Status, userID, serviceKey, env,
	)
	if err != nil {
		return nil, fmt.Errorf("persist health status %s/%s: %w", serviceKey, env, err)
	}

	return report, nil
}

// RecordUsage bumps the per-configuration call counters after a routed call.
func (s *VaultService) RecordUsage(ctx context.Context, userID, serviceKey string, env model.Environment, success bool) error {
	successInc := 0
	failedInc := 0
	if success {
		successInc = 1
	} else {
		failedInc = 1
	}
	_, err := s.db.Exec(ctx,
		`UPDATE user_service_configs
		 SET total_calls = total_calls + 1,
		     successful_calls = successful_calls + $1,
		     failed_calls = failed_calls + $2,
		     last_used_at = now(),
		     updated_at = now()
		 WHERE user_id = $3 AND service_key = $4 AND environment = $5`,
		successInc, failedInc, userID, serviceKey, env,
	)
	if err != nil {
		return fmt.Errorf("record usage %s/%s: %w", serviceKey, env, err)
	}
	return nil
}

func (s *VaultService) encryptCredentials(credentials map[string]string) (string, error) {
	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	ciphertext, err := crypto.Encrypt(plaintext, s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt credentials: %w", err)
	}
	return ciphertext, nil
}

func (s *VaultService) decryptCredentials(ciphertext string) (map[string]string, error) {
	plaintext, err := crypto.Decrypt(ciphertext, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	var credentials map[string]string
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return credentials, nil
}
