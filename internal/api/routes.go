package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the public API, health and metrics endpoints.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/expert-weightings/refresh", h.RefreshExpertWeightings)
		api.Route("/disease-groups/{id}", func(g chi.Router) {
			g.Get("/model-run-occurrences", h.SelectModelRunOccurrences)
			g.Post("/weightings/refresh", h.RefreshOccurrenceWeightings)
			g.Post("/model-runs", h.RequestModelRun)
		})
		api.Post("/occurrences/{id}/validation", h.ApplyValidation)
		api.Post("/model-runs/{name}/completion", h.HandleRunCompletion)
	})
	return r
}
