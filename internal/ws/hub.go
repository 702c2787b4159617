package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const inboxRoutingKey = "ws_events.inbox"

// Hub maintains the active websocket connections, one room per user. Store
// change callbacks feed the broadcast methods so every connected client of
// a user sees the same refreshed inbox state.
type Hub struct {
	rooms map[int]map[*websocket.Conn]ConnInfo
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*websocket.Conn]ConnInfo)}
}

// AddClient registers a websocket connection to a user's room.
func (h *Hub) AddClient(userID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[userID]; !ok {
		h.rooms[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[userID][conn] = info
}

// RemoveClient removes a websocket connection from a user's room.
func (h *Hub) RemoveClient(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, userID)
		}
	}
}

// BroadcastConversations pushes a refreshed conversation list to a user.
func (h *Hub) BroadcastConversations(userID int, conversations []models.Conversation) {
	h.broadcast(userID, models.InboxEvent{Type: "conversations", Conversations: conversations})
}

// BroadcastMessage pushes one newly merged realtime message to a user.
func (h *Hub) BroadcastMessage(userID int, msg models.Message) {
	h.broadcast(userID, models.InboxEvent{Type: "message", Message: &msg})
}

// BroadcastNotification pushes one notification to a user.
func (h *Hub) BroadcastNotification(userID int, n models.Notification) {
	h.broadcast(userID, models.InboxEvent{Type: "notification", Notification: &n})
}

func (h *Hub) broadcast(userID int, event models.InboxEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	for conn := range h.rooms[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.publishWSError(userID, conn, err)
			h.RemoveClient(userID, conn)
		}
	}
}

func (h *Hub) publishWSError(userID int, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(userID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "inbox",
			"resource_id": userID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), inboxRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("inbox", "ws_error")
}

func (h *Hub) getConnInfo(userID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.rooms[userID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
