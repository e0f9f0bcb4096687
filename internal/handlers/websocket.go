package handlers

import (
	"encoding/json"
	"net/http"

	"guest-gallery-backend/internal/hub"
	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub     *hub.Hub
	manager *session.Manager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(h *hub.Hub, manager *session.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     h,
		manager: manager,
	}
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = middleware.TokenFromRequest(r)
	}

	claims, err := middleware.ValidateWebSocketToken(token, h.manager)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	identity := claims.Identity()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.Register(identity.Subject, conn)
	defer h.hub.Unregister(client)

	client.Send(hub.Message{
		Type: hub.TypeSession,
		Data: SessionResponse{
			State:       session.StateSignedIn.String(),
			User:        &identity,
			DisplayName: identity.DisplayName(),
		},
	})

	log.Info().Str("user_id", identity.Subject).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", identity.Subject).Msg("WebSocket error")
			}
			break
		}

		var msg hub.Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", identity.Subject).Msg("Failed to parse WebSocket message")
			client.Send(hub.Message{Type: hub.TypeError, Message: "Invalid message format"})
			continue
		}

		switch msg.Type {
		case hub.TypeSubscribe:
			h.hub.Subscribe(client, msg.Keys)
		case hub.TypeUnsubscribe:
			h.hub.Unsubscribe(client, msg.Keys)
		default:
			client.Send(hub.Message{Type: hub.TypeError, Message: "Unknown message type"})
		}
	}
}
