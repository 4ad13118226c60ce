package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk analytics routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/measure", h.HandleMeasure)
		r.Post("/performance", h.HandlePerformance)
		r.Post("/contributions", h.HandleContributions)
	})
}
