package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/conduit/internal/api/request"
	"github.com/edvin/conduit/internal/api/response"
	"github.com/edvin/conduit/internal/core"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
)

// Catalog handles browsing and (for admins) curating service definitions.
type Catalog struct {
	svc *core.CatalogService
}

func NewCatalog(svc *core.CatalogService) *Catalog {
	return &Catalog{svc: svc}
}

// List returns catalog entries matching the query filters.
func (h *Catalog) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := core.CatalogFilters{
		Category:    model.ServiceCategory(q.Get("category")),
		Search:      q.Get("search"),
		IncludeBeta: q.Get("include_beta") == "true",
	}

	defs, err := h.svc.List(r.Context(), filters)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, defs)
}

// Get returns one catalog entry by service key.
func (h *Catalog) Get(w http.ResponseWriter, r *http.Request) {
	key, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	def, err := h.svc.GetByKey(r.Context(), key)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, def)
}

// Add creates a new catalog entry. Admin only.
func (h *Catalog) Add(w http.ResponseWriter, r *http.Request) {
	var req request.UpsertDefinition
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := definitionFromRequest(&req)
	def.ID = platform.NewID()
	if err := h.svc.Add(r.Context(), def); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, def)
}

// Update replaces an existing catalog entry. Admin only.
func (h *Catalog) Update(w http.ResponseWriter, r *http.Request) {
	key, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpsertDefinition
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ServiceKey = key

	def := definitionFromRequest(&req)
	if err := h.svc.Update(r.Context(), def); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, def)
}

// Disable marks a catalog entry unavailable. Admin only.
func (h *Catalog) Disable(w http.ResponseWriter, r *http.Request) {
	key, err := request.RequireID(chi.URLParam(r, "serviceKey"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Disable(r.Context(), key); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func definitionFromRequest(req *request.UpsertDefinition) *model.ServiceDefinition {
	def := &model.ServiceDefinition{
		ServiceKey:  req.ServiceKey,
		Name:        req.Name,
		Description: req.Description,
		Category:    model.ServiceCategory(req.Category),
		Invocation: model.InvocationTemplate{
			Command:    req.Invocation.Command,
			Args:       req.Invocation.Args,
			EnvMapping: req.Invocation.EnvMapping,
		},
		HealthCheckURL: req.HealthCheckURL,
		IsAvailable:    true,
		IsBeta:         req.IsBeta,
	}
	if req.IsAvailable != nil {
		def.IsAvailable = *req.IsAvailable
	}
	for _, f := range req.Credentials {
		field := model.CredentialField{
			Key:      f.Key,
			Label:    f.Label,
			Required: f.Required,
		}
		if f.Validation != nil {
			field.Validation = &model.CredentialRule{
				MinLength: f.Validation.MinLength,
				MaxLength: f.Validation.MaxLength,
				Pattern:   f.Validation.Pattern,
			}
		}
		def.Credentials = append(def.Credentials, field)
	}
	return def
}
