// Package http wires the service's HTTP surface: middleware chain, route
// tree and server lifecycle.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/prometheus"
	"github.com/clinforge/cohortd/internal/interfaces/http/handlers"
	"github.com/clinforge/cohortd/internal/interfaces/http/middleware"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the complete HTTP route tree.
type RouterConfig struct {
	// Handlers
	FilterHandler     *handlers.FilterHandler
	DatasetHandler    *handlers.DatasetHandler
	CohortHandler     *handlers.CohortHandler
	ComparisonHandler *handlers.ComparisonHandler
	HealthHandler     *handlers.HealthHandler

	// Middleware
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware func(http.Handler) http.Handler
	CORS             func(http.Handler) http.Handler
	RequestLogging   func(http.Handler) http.Handler
	RateLimit        func(http.Handler) http.Handler

	// Infrastructure
	Logger  logging.Logger
	Metrics *prometheus.Collector
}

// NewRouter constructs the complete HTTP route tree: global middleware,
// public health and metrics endpoints, and the authenticated, tenant-scoped
// API under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.CORS != nil {
		r.Use(cfg.CORS)
	}
	if cfg.RequestLogging != nil {
		r.Use(cfg.RequestLogging)
	}
	if cfg.RateLimit != nil {
		r.Use(cfg.RateLimit)
	}
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Public probes, no auth or tenant required.
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.Handler)
		}
		if cfg.TenantMiddleware != nil {
			api.Use(cfg.TenantMiddleware)
		}

		registerFilterRoutes(api, cfg.FilterHandler)
		registerDatasetRoutes(api, cfg.DatasetHandler)
		registerCohortRoutes(api, cfg.CohortHandler)
		registerComparisonRoutes(api, cfg.ComparisonHandler)
	})

	return r
}

// registerFilterRoutes mounts saved-filter endpoints under /filters.
func registerFilterRoutes(r chi.Router, h *handlers.FilterHandler) {
	if h == nil {
		return
	}
	r.Route("/filters", func(fr chi.Router) {
		fr.Get("/", h.List)
		fr.Post("/", h.Create)
		fr.Post("/validate", h.Validate)

		fr.Route("/{filterID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Put("/", h.Update)
			item.Delete("/", h.Delete)
		})
	})
}

// registerDatasetRoutes mounts master-data endpoints under /datasets.
func registerDatasetRoutes(r chi.Router, h *handlers.DatasetHandler) {
	if h == nil {
		return
	}
	r.Route("/datasets", func(dr chi.Router) {
		dr.Get("/", h.List)
		dr.Post("/", h.Upload)

		dr.Route("/{datasetID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Delete("/", h.Delete)
			item.Get("/versions", h.ListVersions)
			item.Post("/versions", h.UploadVersion)
			item.Get("/download", h.Download)
		})
	})
}

// registerCohortRoutes mounts cohort endpoints under /cohorts.
func registerCohortRoutes(r chi.Router, h *handlers.CohortHandler) {
	if h == nil {
		return
	}
	r.Route("/cohorts", func(cr chi.Router) {
		cr.Get("/", h.List)
		cr.Post("/", h.Create)

		cr.Route("/{cohortID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Put("/", h.Update)
			item.Delete("/", h.Delete)
			item.Get("/patients", h.Patients)
			item.Post("/rematerialize", h.Rematerialize)
		})
	})
}

// registerComparisonRoutes mounts comparison endpoints under /comparisons.
func registerComparisonRoutes(r chi.Router, h *handlers.ComparisonHandler) {
	if h == nil {
		return
	}
	r.Route("/comparisons", func(cr chi.Router) {
		cr.Post("/", h.Compare)
		cr.Get("/", h.Get)
	})
}
