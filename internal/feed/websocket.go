package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/studyrelay/internal/identity"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// wsMessage is a control message sent by feed clients.
type wsMessage struct {
	Type string `json:"type"`
}

// WebSocketHandler streams hub events to one WebSocket client per request.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket feed handler.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("Failed to accept feed WebSocket", "error", err, "ip", ip)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close feed websocket", "error", closeErr)
		}
	}()

	id, events, recent := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	slog.Info("Feed subscriber connected", "subscriber", id, "ip", ip)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, pongs)
	}()

	for _, ev := range recent {
		if err := writeJSON(ctx, ws, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed subscriber disconnected", "subscriber", id)
			return
		case <-pongs:
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				slog.Debug("Feed write failed", "subscriber", id, "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, pongs chan<- struct{}) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("Feed read error", "error", err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
