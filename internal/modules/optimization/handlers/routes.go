package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimization", func(r chi.Router) {
		r.Get("/config", h.HandleGetConfig)
		r.Post("/sharpe", h.HandleOptimizeSharpe)
		r.Post("/return", h.HandleOptimizeReturn)
	})
}
