package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. metricsHandler
// is the Prometheus scrape endpoint; wsHandler upgrades to the live event feed.
func MountRoutes(r chi.Router, h *Handlers, metricsHandler, wsHandler http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Route("/tenants/{tenantID}/pool", func(r chi.Router) {
			r.Post("/", h.CreatePool)
			r.Delete("/", h.DeletePool)
			r.Post("/acquire", h.Acquire)
			r.Post("/release", h.Release)
			r.Get("/stats", h.GetPoolStats)
		})

		r.Get("/pools", h.ListPools)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metricsHandler)
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}
}
