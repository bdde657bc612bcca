package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/conduit/internal/api/handler"
	mw "github.com/edvin/conduit/internal/api/middleware"
	"github.com/edvin/conduit/internal/config"
	"github.com/edvin/conduit/internal/core"
	"github.com/edvin/conduit/internal/router"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	broker   *router.Router
	corePool *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, services *core.Services, broker *router.Router, corePool *pgxpool.Pool, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		broker:   broker,
		corePool: corePool,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// The invocation entry point authenticates inside the router's
		// admission pipeline, which also owns the usage log entry.
		invoke := handler.NewInvoke(s.broker)
		r.Post("/invoke", invoke.Invoke)

		// Management surface, authenticated by X-API-Key and scoped to
		// the key's owner.
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.services.APIKey))

			catalog := handler.NewCatalog(s.services.Catalog)
			r.Get("/catalog", catalog.List)
			r.Get("/catalog/{serviceKey}", catalog.Get)

			vault := handler.NewVault(s.services.Vault)
			r.Get("/services", vault.List)
			r.Put("/services/{serviceKey}", vault.Configure)
			r.Put("/services/{serviceKey}/credentials", vault.UpdateCredentials)
			r.Post("/services/{serviceKey}/toggle", vault.Toggle)
			r.Delete("/services/{serviceKey}", vault.Delete)
			r.Post("/services/{serviceKey}/test", vault.TestConnection)

			apiKey := handler.NewAPIKey(s.services.APIKey)
			r.Post("/keys", apiKey.Create)
			r.Get("/keys", apiKey.List)
			r.Get("/keys/{id}", apiKey.Get)
			r.Post("/keys/{id}/revoke", apiKey.Revoke)
			r.Post("/keys/{id}/reactivate", apiKey.Reactivate)
			r.Delete("/keys/{id}", apiKey.Delete)

			usage := handler.NewUsage(s.services.Usage)
			r.Get("/usage", usage.List)
		})

		// Privileged catalog curation.
		r.Group(func(r chi.Router) {
			r.Use(mw.AdminAuth(s.cfg.AdminToken))

			catalog := handler.NewCatalog(s.services.Catalog)
			r.Post("/admin/catalog", catalog.Add)
			r.Put("/admin/catalog/{serviceKey}", catalog.Update)
			r.Post("/admin/catalog/{serviceKey}/disable", catalog.Disable)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.corePool != nil {
		if err := s.corePool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable","reason":"database"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
