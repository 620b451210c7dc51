// Package stream pushes chat view snapshots to the browser over a WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/hfchat/internal/chat"
	"github.com/ashureev/hfchat/internal/identity"
	"github.com/ashureev/hfchat/internal/session"
	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler streams a session's view to one connected tab.
type WebSocketHandler struct {
	registry      *session.Registry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(registry *session.Registry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is an inbound client message.
type wsMessage struct {
	Type  string `json:"type"`
	Draft string `json:"draft,omitempty"`
}

// viewMessage is an outbound view snapshot.
type viewMessage struct {
	Type string    `json:"type"`
	View chat.View `json:"view"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "device_id", deviceID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if deviceID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	c, detach := h.registry.Attach(deviceID, sessionID)
	defer detach()

	// One pending signal is enough: the writer always sends the latest view.
	changed := make(chan struct{}, 1)
	unsubscribe := c.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: client -> controller.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, c, deviceID)
	}()

	// Output loop: controller -> client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, c, changed, deviceID)
	}()

	wg.Wait()
	slog.Info("View stream ended", "device_id", deviceID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, c *chat.Controller, deviceID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "device_id", deviceID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Ignoring malformed WebSocket message", "error", err, "device_id", deviceID)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case "draft":
			c.SetDraft(msg.Draft)
		}
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, c *chat.Controller, changed <-chan struct{}, deviceID string) {
	if err := h.writeJSON(ctx, ws, viewMessage{Type: "view", View: c.View()}); err != nil {
		slog.Debug("Failed to send initial view", "error", err, "device_id", deviceID)
		return
	}

	for {
		select {
		case <-changed:
			if err := h.writeJSON(ctx, ws, viewMessage{Type: "view", View: c.View()}); err != nil {
				if ctx.Err() == nil {
					slog.Warn("Failed to push view", "error", err, "device_id", deviceID)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
