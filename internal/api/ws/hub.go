// Package ws serves live session event streams over WebSocket.
package ws

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/loom/internal/bus"
)

// Hub manages WebSocket connections backed by the event bus.
type Hub struct {
	bus bus.Bus
}

// NewHub creates a new WebSocket hub.
func NewHub(b bus.Bus) *Hub {
	return &Hub{bus: b}
}

// ServeSession handles WebSocket connections tailing one session's events.
// Subscribes to the bus channel "session:<sessionID>" and forwards every
// event line to the client until either side goes away. Events published
// before the subscription are not replayed.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	messages, cleanup, err := h.bus.Subscribe(ctx, bus.SessionChannel(sessionID))
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
