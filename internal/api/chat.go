package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/hfchat/internal/chat"
	"github.com/ashureev/hfchat/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type credentialRequest struct {
	Credential string `json:"credential"`
}

type draftRequest struct {
	Draft string `json:"draft"`
}

type messageRequest struct {
	Content *string `json:"content"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type clearResponse struct {
	Cleared bool      `json:"cleared"`
	View    chat.View `json:"view"`
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Post("/credential", h.SubmitCredential)
			r.Delete("/credential", h.ResetCredential)
			r.Put("/draft", h.UpdateDraft)
			r.Post("/messages", h.SubmitMessage)
			r.Post("/clear", h.ClearConversation)
		})
	})
}

// GetConfig returns the settings the page needs to label itself.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{
		"thinking_text": chat.ThinkingText,
		"clear_prompt":  chat.ClearPrompt,
	}
	if h.cfg != nil {
		resp["model_id"] = h.cfg.Completion.ModelID
		resp["model_name"] = h.cfg.Completion.ModelName
	}
	JSON(w, http.StatusOK, resp)
}

// GetChat returns the current view of the caller's session.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, c.View())
}

// SubmitCredential handles POST /api/chat/credential.
func (h *Handler) SubmitCredential(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		Error(w, http.StatusUnprocessableEntity, "credential is required")
		return
	}

	c.SubmitCredential(req.Credential)
	JSON(w, http.StatusOK, c.View())
}

// ResetCredential handles DELETE /api/chat/credential.
func (h *Handler) ResetCredential(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	c.ResetCredential()
	JSON(w, http.StatusOK, c.View())
}

// UpdateDraft handles PUT /api/chat/draft.
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if !h.decode(w, r, &req) {
		return
	}
	c.SetDraft(req.Draft)
	JSON(w, http.StatusOK, c.View())
}

// SubmitMessage handles POST /api/chat/messages. When the body carries
// content it replaces the draft; otherwise the stored draft is sent. The
// response is 202 as soon as the request is dispatched, or 200 with the
// settled view when called with ?wait=true.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		done <-chan struct{}
		err  error
	)
	if req.Content != nil {
		done, err = c.SubmitInput(*req.Content)
	} else {
		done, err = c.Submit()
	}

	switch {
	case errors.Is(err, chat.ErrInFlight):
		Error(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chat.ErrNotReady):
		Error(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chat.ErrEmptyInput):
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		slog.Error("Chat submission failed", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		Error(w, http.StatusInternalServerError, "submission failed")
		return
	}

	slog.Debug("Chat message accepted",
		"device_id", identity.DeviceIDFromContext(r.Context()),
		"session_id", identity.SessionIDFromContext(r.Context()),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	if r.URL.Query().Get("wait") != "true" {
		JSON(w, http.StatusAccepted, c.View())
		return
	}

	// Leaving early only stops this handler from waiting; the exchange itself
	// carries on and settles into the session.
	select {
	case <-done:
		JSON(w, http.StatusOK, c.View())
	case <-r.Context().Done():
	}
}

// ClearConversation handles POST /api/chat/clear. The browser asks the user
// first and reports the answer in the confirm field.
func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req clearRequest
	if !h.decode(w, r, &req) {
		return
	}

	cleared := c.ClearConversation(chat.ConfirmFunc(func(string) bool {
		return req.Confirm
	}))
	JSON(w, http.StatusOK, clearResponse{Cleared: cleared, View: c.View()})
}
