// Package api wires the HTTP router for the Flowline engine service.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flowline-ai/flowline/internal/api/handlers"
	"github.com/flowline-ai/flowline/internal/api/middleware"
	"github.com/flowline-ai/flowline/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/process", h.ProcessRequest)

		r.Post("/intent/classify", h.ClassifyIntent)

		r.Route("/context", func(r chi.Router) {
			r.Post("/preview", h.PreviewContext)
			r.Get("/variants", h.ListVariants)
			r.Route("/sections", func(r chi.Router) {
				r.Get("/", h.ListSections)
				r.Put("/{sectionID}", h.UpsertSection)
				r.Delete("/{sectionID}", h.DeleteSection)
			})
		})

		r.Post("/cache/invalidate", h.InvalidateCache)
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version":     cfg.Version,
			"environment": cfg.Environment,
		})
	}
}
