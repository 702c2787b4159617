package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"inbox-service/internal/middleware"
	"inbox-service/internal/observability"
)

// InboxWebSocketHandler upgrades UI clients onto their inbox push stream.
type InboxWebSocketHandler struct {
	hub       *Hub
	validator middleware.TokenValidator
}

// NewInboxWebSocketHandler constructs an InboxWebSocketHandler.
func NewInboxWebSocketHandler(hub *Hub, validator middleware.TokenValidator) *InboxWebSocketHandler {
	return &InboxWebSocketHandler{hub: hub, validator: validator}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle validates the session token, upgrades the connection and registers
// the client in its user room until the peer goes away.
func (h *InboxWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("inbox-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		if header := c.GetHeader("Authorization"); len(header) > 7 {
			token = header[7:]
		}
	}

	userID, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(userID, conn, info)

	observability.IncWSActive("inbox")
	observability.IncWSEvent("inbox", "ws_connect")
	_ = observability.PublishEvent(ctx, inboxRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload(info, userID, "ws_connect", 0, ""),
	}, observability.BuildHeaders(requestID, traceID))

	// Keep connection alive and clean on close.
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(userID, conn)
			observability.DecWSActive("inbox")
			observability.IncWSEvent("inbox", "ws_disconnect")
			_ = observability.PublishEvent(ctx, inboxRoutingKey, observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload:   wsEventPayload(info, userID, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
			}, observability.BuildHeaders(requestID, traceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("inbox", "ws_error")
					_ = observability.PublishEvent(ctx, inboxRoutingKey, observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload:   wsEventPayload(info, userID, "ws_error", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
					}, observability.BuildHeaders(requestID, traceID))
				}
				return
			}
		}
	}()
}

func wsEventPayload(info ConnInfo, userID int, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "inbox",
			"resource_id": userID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
