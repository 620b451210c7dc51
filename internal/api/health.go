package api

import (
	"net/http"

	"github.com/ashureev/hfchat/internal/session"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	registry *session.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(registry *session.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Health returns the health status of the API and the number of live chat
// sessions.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"checks":   map[string]string{"api": "ok"},
		"sessions": h.registry.Len(),
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
