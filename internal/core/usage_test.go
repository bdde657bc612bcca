package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/conduit/internal/model"
)

func TestUsageLogInsert(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageLogService(db)

	code := "ACTION_NOT_ALLOWED"
	ip := "10.0.0.1"
	entry := &model.UsageLogEntry{
		ID:         "log-1",
		RequestID:  "req-1",
		UserID:     "user-1",
		ServiceKey: "stripe",
		Action:     "create-customer",
		Status:     model.UsageUnauthorized,
		ErrorCode:  &code,
		TotalMs:    12,
		ClientIP:   &ip,
	}

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO usage_logs")
	}), mock.MatchedBy(func(args []any) bool {
		return args[0] == "log-1" && args[1] == "req-1" && args[4] == "stripe"
	})).Return(tagAffecting(1), nil)

	err := svc.Insert(context.Background(), entry)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUsageLogInsert_AssignsID(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageLogService(db)

	entry := &model.UsageLogEntry{
		RequestID:  "req-2",
		UserID:     "user-1",
		ServiceKey: "github",
		Action:     "list_repos",
		Status:     model.UsageSuccess,
	}

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(tagAffecting(1), nil)

	require.NoError(t, svc.Insert(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
}

func TestUsageLogListByUser(t *testing.T) {
	db := &mockDB{}
	svc := NewUsageLogService(db)

	now := time.Now()
	scanEntry := func(id string) func(dest ...any) error {
		return func(dest ...any) error {
			*dest[0].(*string) = id
			*dest[1].(*string) = "req-" + id
			*dest[2].(*string) = "user-1"
			*dest[4].(*string) = "stripe"
			*dest[5].(*string) = "create_charge"
			*dest[6].(*model.UsageStatus) = model.UsageSuccess
			*dest[8].(*int64) = 10
			*dest[9].(*int64) = 1
			*dest[10].(*int64) = 8
			*dest[14].(*time.Time) = now
			return nil
		}
	}

	// limit+1 rows returned means hasMore.
	db.On("Query", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		return args[0] == "user-1"
	})).Return(newMockRows(scanEntry("a"), scanEntry("b"), scanEntry("c")), nil)

	entries, hasMore, err := svc.ListByUser(context.Background(), "user-1", 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, model.UsageSuccess, entries[0].Status)
}
