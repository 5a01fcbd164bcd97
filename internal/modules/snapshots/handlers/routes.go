package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the snapshot routes on a router whose path carries {userID}
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/snapshots", h.HandleGetSeries)
	r.Post("/recompute", h.HandleRecompute)
	r.Post("/reconcile", h.HandleReconcile)
}
