package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/conduit/internal/api/middleware"
	"github.com/edvin/conduit/internal/api/request"
	"github.com/edvin/conduit/internal/api/response"
	"github.com/edvin/conduit/internal/core"
	"github.com/edvin/conduit/internal/model"
)

// APIKey handles key management endpoints, owner-scoped to the caller.
type APIKey struct {
	svc *core.APIKeyService
}

func NewAPIKey(svc *core.APIKeyService) *APIKey {
	return &APIKey{svc: svc}
}

// Create issues a new API key. The raw secret is returned once in the
// response and never again.
func (h *APIKey) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateAPIKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	createReq := core.CreateKeyRequest{
		UserID:             mw.UserID(r.Context()),
		Name:               req.Name,
		ScopeType:          model.ScopeType(req.ScopeType),
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerDay:    req.RateLimitPerDay,
		AllowedIPs:         req.AllowedIPs,
		ExpiresAt:          req.ExpiresAt,
	}
	for _, s := range req.Scopes {
		createReq.Scopes = append(createReq.Scopes, core.ScopeGrant{
			ServiceKey:     s.ServiceKey,
			AllowedActions: s.AllowedActions,
		})
	}
	for _, e := range req.AllowedEnvironments {
		createReq.AllowedEnvironments = append(createReq.AllowedEnvironments, model.Environment(e))
	}

	key, secret, err := h.svc.Create(r.Context(), createReq)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	// The secret rides along exactly once.
	resp := map[string]any{
		"id":                    key.ID,
		"name":                  key.Name,
		"key":                   secret,
		"key_prefix":            key.KeyPrefix,
		"scope_type":            key.ScopeType,
		"rate_limit_per_minute": key.RateLimitPerMinute,
		"rate_limit_per_day":    key.RateLimitPerDay,
		"created_at":            key.CreatedAt,
	}
	response.WriteJSON(w, http.StatusCreated, resp)
}

// List returns the caller's keys with cursor pagination.
func (h *APIKey) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	keys, hasMore, err := h.svc.List(r.Context(), mw.UserID(r.Context()), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(keys) > 0 {
		nextCursor = keys[len(keys)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, keys, nextCursor, hasMore)
}

// Get returns one of the caller's keys by ID. The revocation reason, if
// any, is visible to the owner here.
func (h *APIKey) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, err := h.svc.GetByID(r.Context(), mw.UserID(r.Context()), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, key)
}

// Revoke soft-disables a key with a reason. Reversible via Reactivate.
func (h *APIKey) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RevokeAPIKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Revoke(r.Context(), mw.UserID(r.Context()), id, req.Reason); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reactivate lifts a revocation.
func (h *APIKey) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Reactivate(r.Context(), mw.UserID(r.Context()), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a key permanently.
func (h *APIKey) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.DeleteKey(r.Context(), mw.UserID(r.Context()), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
