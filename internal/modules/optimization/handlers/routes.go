package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimize", func(r chi.Router) {
		// Programs over a risk measure
		r.Post("/mean-risk", h.HandleMeanRisk)
		r.Post("/risk-parity", h.HandleRiskParity)
		r.Post("/relaxed-risk-parity", h.HandleRelaxedRiskParity)
		r.Post("/black-litterman", h.HandleBlackLitterman)
		r.Post("/frontier", h.HandleFrontier)

		// Cluster based
		r.Post("/hierarchical", h.HandleHierarchical)

		// Covariance only
		r.Post("/max-diversification", h.HandleMaxDiversification)
		r.Post("/max-decorrelation", h.HandleMaxDecorrelation)

		// Naive
		r.Post("/equal-weight", h.HandleEqualWeight)
		r.Post("/property-weighted", h.HandlePropertyWeighted)
	})
}
