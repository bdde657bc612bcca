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

// Vault handles the caller's encrypted service configurations. Every
// operation is scoped to the authenticated key's owner.
type Vault struct {
	svc *core.VaultService
}

func NewVault(svc *core.VaultService) *Vault {
	return &Vault{svc: svc}
}

// List returns the caller's configurations across all environments.
func (h *Vault) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.ListByUser(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, configs)
}

// Configure validates, encrypts, and upserts credentials for a service.
func (h *Vault) Configure(w http.ResponseWriter, r *http.Request) {
	serviceKey, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ConfigureService
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg, err := h.svc.Configure(r.Context(), mw.UserID(r.Context()), serviceKey,
		req.Credentials, bodyEnvironment(req.Environment), enabled)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, cfg)
}

// UpdateCredentials replaces the stored credentials only.
func (h *Vault) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	serviceKey, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateCredentials
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.UpdateCredentials(r.Context(), mw.UserID(r.Context()), serviceKey,
		req.Credentials, bodyEnvironment(req.Environment)); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle flips the enabled flag of a configuration.
func (h *Vault) Toggle(w http.ResponseWriter, r *http.Request) {
	serviceKey, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ToggleService
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Toggle(r.Context(), mw.UserID(r.Context()), serviceKey,
		bodyEnvironment(req.Environment), req.Enabled); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a configuration.
func (h *Vault) Delete(w http.ResponseWriter, r *http.Request) {
	serviceKey, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := request.Environment(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), mw.UserID(r.Context()), serviceKey, env); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection probes the service's health endpoint and reports the
// resulting status.
func (h *Vault) TestConnection(w http.ResponseWriter, r *http.Request) {
	serviceKey, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.TestConnection
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.TestConnection(r.Context(), mw.UserID(r.Context()), serviceKey,
		req.Credentials, bodyEnvironment(req.Environment))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, report)
}

func bodyEnvironment(raw string) model.Environment {
	if raw == "" {
		return model.EnvProduction
	}
	return model.Environment(raw)
}
