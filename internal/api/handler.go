// Package api provides HTTP handlers for the chat API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/hfchat/internal/chat"
	"github.com/ashureev/hfchat/internal/config"
	"github.com/ashureev/hfchat/internal/identity"
	"github.com/ashureev/hfchat/internal/session"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	registry    *session.Registry
	cfg         *config.Config
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry, cfg *config.Config) *Handler {
	maxBodySize := int64(defaultMaxRequestBodySize)
	if cfg != nil && cfg.MaxRequestBodySize > 0 {
		maxBodySize = cfg.MaxRequestBodySize
	}
	return &Handler{
		registry:    registry,
		cfg:         cfg,
		maxBodySize: maxBodySize,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// controller resolves the chat controller for the caller's device and tab.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*chat.Controller, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return h.registry.GetOrCreate(deviceID, identity.SessionIDFromContext(r.Context())), true
}

// decode reads a size-limited JSON body into v. An empty body leaves v as is.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}
