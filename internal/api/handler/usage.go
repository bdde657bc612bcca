package handler

import (
	"net/http"

	mw "github.com/edvin/conduit/internal/api/middleware"
	"github.com/edvin/conduit/internal/api/request"
	"github.com/edvin/conduit/internal/api/response"
	"github.com/edvin/conduit/internal/core"
)

// Usage exposes the caller's audit trail.
type Usage struct {
	svc *core.UsageLogService
}

func NewUsage(svc *core.UsageLogService) *Usage {
	return &Usage{svc: svc}
}

// List returns the caller's usage log entries, newest first, with cursor
// pagination.
func (h *Usage) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	entries, hasMore, err := h.svc.ListByUser(r.Context(), mw.UserID(r.Context()), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, entries, nextCursor, hasMore)
}
