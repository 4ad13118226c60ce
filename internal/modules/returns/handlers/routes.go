package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the dataset routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleSave)
		r.Get("/{name}", h.HandleGet)
		r.Delete("/{name}", h.HandleDelete)
	})
}
