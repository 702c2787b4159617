package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"inbox-service/internal/chatstore"
	"inbox-service/internal/convkey"
	"inbox-service/internal/telemetry"
)

// InboxHandler exposes the conversation store actions over HTTP. Every
// endpoint operates on the authenticated viewer's own store; the response
// is the refreshed store state the UI renders from.
type InboxHandler struct {
	registry *Registry
	emitter  *telemetry.AuditEmitter
}

// NewInboxHandler builds an InboxHandler.
func NewInboxHandler(registry *Registry, emitter *telemetry.AuditEmitter) *InboxHandler {
	return &InboxHandler{registry: registry, emitter: emitter}
}

// ListConversations fetches the first conversation window and returns the
// disclosed list.
func (h *InboxHandler) ListConversations(c *gin.Context) {
	store := h.registry.ChatStore(c.GetInt("userID"))
	if err := store.FetchConversations(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": store.Conversations(),
		"has_more":      store.HasMoreConversations(),
	})
}

// MoreConversations extends the conversation window by one page.
func (h *InboxHandler) MoreConversations(c *gin.Context) {
	store := h.registry.ChatStore(c.GetInt("userID"))
	if err := store.FetchMoreConversations(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": store.Conversations(),
		"has_more":      store.HasMoreConversations(),
	})
}

// GetMessages fetches the newest message page for one conversation.
func (h *InboxHandler) GetMessages(c *gin.Context) {
	key := c.Param("key")
	store := h.registry.ChatStore(c.GetInt("userID"))

	force := c.Query("force") == "true"
	if err := store.FetchMessages(c.Request.Context(), key, force); err != nil {
		c.JSON(messageFetchStatus(err), gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": store.Messages(key),
		"has_more": store.HasMoreMessages(key),
	})
}

// MoreMessages prepends the next older message page for one conversation.
func (h *InboxHandler) MoreMessages(c *gin.Context) {
	key := c.Param("key")
	store := h.registry.ChatStore(c.GetInt("userID"))

	if err := store.FetchMoreMessages(c.Request.Context(), key); err != nil {
		c.JSON(messageFetchStatus(err), gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": store.Messages(key),
		"has_more": store.HasMoreMessages(key),
	})
}

// messageFetchStatus maps message read-path errors onto HTTP statuses.
func messageFetchStatus(err error) int {
	switch {
	case errors.Is(err, convkey.ErrMalformedKey):
		return http.StatusBadRequest
	case errors.Is(err, chatstore.ErrNotParticipant):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// PostMessage sends a message and returns the backend-confirmed row.
func (h *InboxHandler) PostMessage(c *gin.Context) {
	var req struct {
		ReceiverID int    `json:"receiver_id" binding:"required"`
		Content    string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	store := h.registry.ChatStore(userID)
	msg, err := store.Send(c.Request.Context(), req.ReceiverID, req.Content)
	if err != nil {
		if errors.Is(err, chatstore.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty message content"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	h.emitter.Emit(c.Request.Context(), telemetry.AuditPayload{
		Action:   "message_send",
		Entity:   "message",
		EntityID: msg.ID,
	}, requestIDFromContext(c), auditUserID(c))

	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead flips the viewer's unread messages in a conversation.
func (h *InboxHandler) MarkConversationRead(c *gin.Context) {
	key := c.Param("key")
	store := h.registry.ChatStore(c.GetInt("userID"))

	if err := store.MarkConversationRead(c.Request.Context(), key); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, convkey.ErrMalformedKey):
			status = http.StatusBadRequest
		case errors.Is(err, chatstore.ErrNotParticipant):
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "failed to mark conversation read"})
		return
	}
	c.Status(http.StatusNoContent)
}
