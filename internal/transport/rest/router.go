package rest

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/charge-orchestrator/api"
	"github.com/frahmantamala/charge-orchestrator/internal/audit"
	"github.com/frahmantamala/charge-orchestrator/internal/collection"
	"github.com/frahmantamala/charge-orchestrator/internal/transport/middleware"
	"github.com/frahmantamala/charge-orchestrator/internal/transport/swagger"
)

// Routes bundles what RegisterAllRoutes mounts. Nil handlers leave their routes out.
type Routes struct {
	Health         *HealthHandler
	Collection     *collection.Handler
	Audit          *audit.Handler
	Auth           *middleware.ServiceAuth
	OpenAPI        *openapi3.T
	AllowedOrigins string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) error {
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve the OpenAPI document at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(api.Spec)
	})
	router.Handle("/swagger/*", swagger.Handler())

	var validate func(http.Handler) http.Handler
	if routes.OpenAPI != nil {
		v, err := middleware.OpenAPIValidator(routes.OpenAPI, logger)
		if err != nil {
			return err
		}
		validate = v
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		r.Group(func(pr chi.Router) {
			if routes.Auth != nil {
				pr.Use(routes.Auth.Middleware)
			}
			if validate != nil {
				pr.Use(validate)
			}

			if routes.Collection != nil {
				pr.With(middleware.RequireScopes(logger, middleware.ScopeCollectionsWrite)).
					Post("/collections", routes.Collection.Collect)
				pr.With(middleware.RequireScopes(logger, middleware.ScopeChargesRead, middleware.ScopeCollectionsWrite)).
					Get("/charges/{id}", routes.Collection.GetCharge)
			}

			if routes.Audit != nil {
				pr.Route("/audit", func(ar chi.Router) {
					ar.Use(middleware.RequireScopes(logger, middleware.ScopeAuditRead))
					ar.Get("/", routes.Audit.ListByOwner)
					ar.Get("/references/{referenceId}", routes.Audit.ListByReference)
				})
			}
		})
	})

	return nil
}
