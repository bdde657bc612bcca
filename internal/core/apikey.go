package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/conduit/internal/crypto"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
)

// SecretPrefix makes issued secrets recognizable to secret scanners.
const SecretPrefix = "cdt_"

const (
	DefaultRateLimitPerMinute = 60
	DefaultRateLimitPerDay    = 10000
)

// APIKeyService issues, validates, scopes, and rate-limits caller-facing
// API keys. Only the SHA-256 hash of a secret is ever stored.
type APIKeyService struct {
	db     DB
	logger zerolog.Logger
}

func NewAPIKeyService(db DB, logger zerolog.Logger) *APIKeyService {
	return &APIKeyService{db: db, logger: logger}
}

// ScopeGrant declares one service grant when creating a specific-scoped key.
type ScopeGrant struct {
	ServiceKey     string   `json:"service_key"`
	AllowedActions []string `json:"allowed_actions,omitempty"`
}

// CreateKeyRequest carries everything needed to issue a key.
type CreateKeyRequest struct {
	UserID              string
	Name                string
	ScopeType           model.ScopeType
	Scopes              []ScopeGrant
	AllowedEnvironments []model.Environment
	RateLimitPerMinute  int
	RateLimitPerDay     int
	AllowedIPs          []string
	ExpiresAt           *time.Time
}

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scope_type, allowed_environments,
	 rate_limit_per_minute, rate_limit_per_day, allowed_ips, expires_at, is_active,
	 revoked_at, revoked_reason, created_at`

func scanAPIKey(row interface{ Scan(dest ...any) error }) (model.APIKey, error) {
	var k model.APIKey
	var envs []string
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.ScopeType, &envs,
		&k.RateLimitPerMinute, &k.RateLimitPerDay, &k.AllowedIPs, &k.ExpiresAt, &k.IsActive,
		&k.RevokedAt, &k.RevokedReason, &k.CreatedAt)
	if err != nil {
		return k, err
	}
	for _, e := range envs {
		k.AllowedEnvironments = append(k.AllowedEnvironments, model.Environment(e))
	}
	return k, nil
}

// Create generates a new API key, stores its hash and display prefix, and
// persists scope rows for specific-scoped keys. The raw secret is returned
// exactly once and is not retrievable afterwards. If scope-row insertion
// fails the partially created key is deleted before the error surfaces.
func (s *APIKeyService) Create(ctx context.Context, req CreateKeyRequest) (*model.APIKey, string, error) {
	switch req.ScopeType {
	case model.ScopeAll, model.ScopeSpecific:
	default:
		return nil, "", ErrInvalidScopeType
	}

	secret, err := platform.NewSecret(SecretPrefix)
	if err != nil {
		return nil, "", fmt.Errorf("generate api key secret: %w", err)
	}

	key := &model.APIKey{
		ID:                  platform.NewID(),
		UserID:              req.UserID,
		Name:                req.Name,
		KeyHash:             crypto.KeyHash(secret),
		KeyPrefix:           secret[:12],
		ScopeType:           req.ScopeType,
		AllowedEnvironments: req.AllowedEnvironments,
		RateLimitPerMinute:  req.RateLimitPerMinute,
		RateLimitPerDay:     req.RateLimitPerDay,
		AllowedIPs:          req.AllowedIPs,
		ExpiresAt:           req.ExpiresAt,
		IsActive:            true,
	}
	if key.RateLimitPerMinute <= 0 {
		key.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if key.RateLimitPerDay <= 0 {
		key.RateLimitPerDay = DefaultRateLimitPerDay
	}

	envs := make([]string, 0, len(key.AllowedEnvironments))
	for _, e := range key.AllowedEnvironments {
		envs = append(envs, string(e))
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scope_type, allowed_environments,
		   rate_limit_per_minute, rate_limit_per_day, allowed_ips, expires_at, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, now())`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.ScopeType, envs,
		key.RateLimitPerMinute, key.RateLimitPerDay, key.AllowedIPs, key.ExpiresAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}

	if req.ScopeType == model.ScopeSpecific {
		for _, grant := range req.Scopes {
			_, err := s.db.Exec(ctx,
				`INSERT INTO api_key_scopes (id, api_key_id, service_key, allowed_actions)
				 VALUES ($1, $2, $3, $4)`,
				platform.NewID(), key.ID, grant.ServiceKey, grant.AllowedActions,
			)
			if err != nil {
				// Compensating rollback: an unusable key must not be left behind.
				if _, delErr := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, key.ID); delErr != nil {
					s.logger.Error().Err(delErr).Str("api_key_id", key.ID).
						Msg("failed to roll back partially created api key")
				}
				return nil, "", fmt.Errorf("insert api key scope %s: %w", grant.ServiceKey, err)
			}
		}
	}

	err = s.db.QueryRow(ctx, `SELECT created_at FROM api_keys WHERE id = $1`, key.ID).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("get api key created_at: %w", err)
	}

	return key, secret, nil
}

// Validate authenticates a raw secret by hash lookup. Every failure mode —
// unknown hash, inactive, revoked, expired — fails closed with the same
// generic ErrInvalidAPIKey so callers cannot distinguish them.
func (s *APIKeyService) Validate(ctx context.Context, secret string) (*model.APIKey, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, crypto.KeyHash(secret))
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	if !key.IsActive || key.RevokedAt != nil {
		s.logger.Debug().Str("api_key_id", key.ID).Msg("rejected inactive api key")
		return nil, ErrInvalidAPIKey
	}
	if key.Expired(time.Now()) {
		s.logger.Debug().Str("api_key_id", key.ID).Msg("rejected expired api key")
		return nil, ErrInvalidAPIKey
	}

	return &key, nil
}

// GetScope returns the scope row granting the key access to serviceKey, or
// nil when no such grant exists. All-scoped keys have no scope rows.
func (s *APIKeyService) GetScope(ctx context.Context, apiKeyID, serviceKey string) (*model.APIKeyScope, error) {
	var scope model.APIKeyScope
	err := s.db.QueryRow(ctx,
		`SELECT id, api_key_id, service_key, allowed_actions FROM api_key_scopes
		 WHERE api_key_id = $1 AND service_key = $2`, apiKeyID, serviceKey,
	).Scan(&scope.ID, &scope.APIKeyID, &scope.ServiceKey, &scope.AllowedActions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key scope: %w", err)
	}
	return &scope, nil
}

// CheckServiceAccess reports whether the key may invoke the service at all.
func (s *APIKeyService) CheckServiceAccess(ctx context.Context, key *model.APIKey, serviceKey string) (bool, error) {
	if key.ScopeType == model.ScopeAll {
		return true, nil
	}
	scope, err := s.GetScope(ctx, key.ID, serviceKey)
	if err != nil {
		return false, err
	}
	return scope != nil, nil
}

// CheckActionAccess reports whether the key may invoke the given action. A
// scope row with an empty allow-list permits every action on its service.
func (s *APIKeyService) CheckActionAccess(ctx context.Context, key *model.APIKey, serviceKey, action string) (bool, error) {
	if key.ScopeType == model.ScopeAll {
		return true, nil
	}
	scope, err := s.GetScope(ctx, key.ID, serviceKey)
	if err != nil {
		return false, err
	}
	if scope == nil {
		return false, nil
	}
	if len(scope.AllowedActions) == 0 {
		return true, nil
	}
	for _, a := range scope.AllowedActions {
		if a == action {
			return true, nil
		}
	}
	return false, nil
}

// CheckIPAccess reports whether clientIP may use the key. An empty
// allow-list permits all callers; otherwise the IP must appear verbatim.
func (s *APIKeyService) CheckIPAccess(key *model.APIKey, clientIP string) bool {
	if len(key.AllowedIPs) == 0 {
		return true
	}
	for _, ip := range key.AllowedIPs {
		if ip == clientIP {
			return true
		}
	}
	return false
}

// RateLimitStatus is the outcome of a quota check against both windows.
type RateLimitStatus struct {
	Allowed         bool      `json:"allowed"`
	MinuteLimit     int       `json:"minute_limit"`
	MinuteRemaining int       `json:"minute_remaining"`
	MinuteResetAt   time.Time `json:"minute_reset_at"`
	DayLimit        int       `json:"day_limit"`
	DayRemaining    int       `json:"day_remaining"`
	DayResetAt      time.Time `json:"day_reset_at"`
}

// MinuteWindow floors t to the start of its minute bucket.
func MinuteWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// DayWindow floors t to the start of its UTC day bucket.
func DayWindow(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// CheckRateLimit reads the current minute and day bucket counters and
// reports whether another call may be admitted. It never increments;
// IncrementRateLimit runs only after full admission.
func (s *APIKeyService) CheckRateLimit(ctx context.Context, key *model.APIKey, now time.Time) (*RateLimitStatus, error) {
	minuteStart := MinuteWindow(now)
	dayStart := DayWindow(now)

	minuteCount, err := s.windowCount(ctx, key.ID, model.WindowMinute, minuteStart)
	if err != nil {
		return nil, err
	}
	dayCount, err := s.windowCount(ctx, key.ID, model.WindowDay, dayStart)
	if err != nil {
		return nil, err
	}

	status := &RateLimitStatus{
		MinuteLimit:     key.RateLimitPerMinute,
		MinuteRemaining: key.RateLimitPerMinute - int(minuteCount),
		MinuteResetAt:   minuteStart.Add(time.Minute),
		DayLimit:        key.RateLimitPerDay,
		DayRemaining:    key.RateLimitPerDay - int(dayCount),
		DayResetAt:      dayStart.Add(24 * time.Hour),
	}
	if status.MinuteRemaining < 0 {
		status.MinuteRemaining = 0
	}
	if status.DayRemaining < 0 {
		status.DayRemaining = 0
	}
	status.Allowed = status.MinuteRemaining > 0 && status.DayRemaining > 0
	return status, nil
}

func (s *APIKeyService) windowCount(ctx context.Context, apiKeyID string, window model.RateLimitWindow, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT count FROM rate_limit_counters
		 WHERE api_key_id = $1 AND window_type = $2 AND window_start = $3`,
		apiKeyID, window, windowStart,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s rate counter: %w", window, err)
	}
	return count, nil
}

// IncrementRateLimit bumps both window counters for an admitted call. The
// upsert increments atomically in the database, so concurrent bursts never
// undercount.
func (s *APIKeyService) IncrementRateLimit(ctx context.Context, apiKeyID string, now time.Time) error {
	for _, bucket := range []struct {
		window model.RateLimitWindow
		start  time.Time
	}{
		{model.WindowMinute, MinuteWindow(now)},
		{model.WindowDay, DayWindow(now)},
	} {
		_, err := s.db.Exec(ctx,
			`INSERT INTO rate_limit_counters (api_key_id, window_type, window_start, count)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (api_key_id, window_type, window_start)
			 DO UPDATE SET count = rate_limit_counters.count + 1`,
			apiKeyID, bucket.window, bucket.start,
		)
		if err != nil {
			return fmt.Errorf("increment %s rate counter: %w", bucket.window, err)
		}
	}
	return nil
}

// GetByID retrieves a key scoped to its owner. The stored revocation reason
// remains queryable here even though Validate never reveals it.
func (s *APIKeyService) GetByID(ctx context.Context, userID, id string) (*model.APIKey, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get api key %s: %w", id, err)
	}
	return &key, nil
}

// List retrieves a user's keys with cursor-based pagination.
func (s *APIKeyService) List(ctx context.Context, userID string, limit int, cursor string) ([]model.APIKey, bool, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate api keys: %w", err)
	}

	hasMore := len(keys) > limit
	if hasMore {
		keys = keys[:limit]
	}
	return keys, hasMore, nil
}

// Revoke soft-disables a key with a reason. Takes effect for the next call;
// in-flight calls past validation are not cancelled.
func (s *APIKeyService) Revoke(ctx context.Context, userID, id, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET is_active = false, revoked_at = now(), revoked_reason = $1
		 WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL`,
		reason, id, userID,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s not found or already revoked: %w", id, ErrNotFound)
	}
	return nil
}

// Reactivate reverses a revocation.
func (s *APIKeyService) Reactivate(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET is_active = true, revoked_at = NULL, revoked_reason = NULL
		 WHERE id = $1 AND user_id = $2 AND revoked_at IS NOT NULL`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("reactivate api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s not found or not revoked: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteKey removes a key permanently. Scope rows cascade in the schema.
func (s *APIKeyService) DeleteKey(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
