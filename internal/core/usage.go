package core

import (
	"context"
	"fmt"

	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
)

// UsageLogService appends usage records. Entries are immutable: there is no
// update path, only insert and read.
type UsageLogService struct {
	db DB
}

func NewUsageLogService(db DB) *UsageLogService {
	return &UsageLogService{db: db}
}

// Insert appends one usage log entry.
func (s *UsageLogService) Insert(ctx context.Context, entry *model.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = platform.NewID()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO usage_logs (id, request_id, user_id, api_key_id, service_key, action, status,
		   error_code, total_ms, pool_acquisition_ms, external_call_ms, client_ip, user_agent,
		   response_preview, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())`,
		entry.ID, entry.RequestID, entry.UserID, entry.APIKeyID, entry.ServiceKey, entry.Action,
		entry.Status, entry.ErrorCode, entry.TotalMs, entry.PoolAcquisitionMs, entry.ExternalCallMs,
		entry.ClientIP, entry.UserAgent, entry.ResponsePreview,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

const usageLogColumns = `id, request_id, user_id, api_key_id, service_key, action, status, error_code,
	 total_ms, pool_acquisition_ms, external_call_ms, client_ip, user_agent, response_preview, created_at`

// ListByUser retrieves a user's usage log with cursor-based pagination,
// newest first.
func (s *UsageLogService) ListByUser(ctx context.Context, userID string, limit int, cursor string) ([]model.UsageLogEntry, bool, error) {
	query := `SELECT ` + usageLogColumns + ` FROM usage_logs WHERE user_id = $1`
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
		return nil, false, fmt.Errorf("list usage logs: %w", err)
	}
	defer rows.Close()

	var entries []model.UsageLogEntry
	for rows.Next() {
		var e model.UsageLogEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.UserID, &e.APIKeyID, &e.ServiceKey, &e.Action,
			&e.Status, &e.ErrorCode, &e.TotalMs, &e.PoolAcquisitionMs, &e.ExternalCallMs,
			&e.ClientIP, &e.UserAgent, &e.ResponsePreview, &e.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan usage log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate usage logs: %w", err)
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	return entries, hasMore, nil
}
