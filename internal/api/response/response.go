package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvin/conduit/internal/core"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError translates core errors into HTTP responses. Credential
// validation failures carry the full violation list so the caller can fix
// every field at once.
func WriteServiceError(w http.ResponseWriter, err error) {
	var invalid *core.InvalidCredentialsError
	switch {
	case errors.As(err, &invalid):
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "invalid credentials",
			"violations": invalid.Violations,
		})
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNotConfigured):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrServiceDisabled):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidScopeType):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, status int, items any, nextCursor string, hasMore bool) {
	WriteJSON(w, status, PaginatedResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
