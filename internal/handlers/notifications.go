package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"inbox-service/internal/notifstore"
	"inbox-service/internal/telemetry"
)

// NotificationHandler exposes the notification store actions over HTTP.
type NotificationHandler struct {
	registry *Registry
	emitter  *telemetry.AuditEmitter
}

// NewNotificationHandler builds a NotificationHandler.
func NewNotificationHandler(registry *Registry, emitter *telemetry.AuditEmitter) *NotificationHandler {
	return &NotificationHandler{registry: registry, emitter: emitter}
}

// ListNotifications fetches the newest notification window.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	store := h.registry.NotifStore(c.GetInt("userID"))
	if err := store.FetchPage(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": store.Notifications(),
		"unread_count":  store.UnreadCount(),
		"has_more":      store.HasMore(),
	})
}

// MoreNotifications appends the next older page.
func (h *NotificationHandler) MoreNotifications(c *gin.Context) {
	store := h.registry.NotifStore(c.GetInt("userID"))
	if err := store.FetchMore(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": store.Notifications(),
		"unread_count":  store.UnreadCount(),
		"has_more":      store.HasMore(),
	})
}

// PostNotification sends a notification to another user. Sends carrying a
// job reference are idempotent per target/job pair.
func (h *NotificationHandler) PostNotification(c *gin.Context) {
	var req struct {
		TargetUserID int    `json:"target_user_id" binding:"required"`
		Kind         string `json:"kind" binding:"required"`
		Content      string `json:"content" binding:"required"`
		JobRef       int    `json:"job_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	store := h.registry.NotifStore(c.GetInt("userID"))
	n, err := store.Send(c.Request.Context(), req.TargetUserID, req.Kind, req.Content, req.JobRef)
	if err != nil {
		if errors.Is(err, notifstore.ErrInvalidKind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "disallowed notification kind"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send notification"})
		return
	}

	h.emitter.Emit(c.Request.Context(), telemetry.AuditPayload{
		Action:   "notification_send",
		Entity:   "notification",
		EntityID: n.ID,
	}, requestIDFromContext(c), auditUserID(c))

	c.JSON(http.StatusCreated, n)
}

// MarkNotificationRead flips one notification's read state.
func (h *NotificationHandler) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	store := h.registry.NotifStore(c.GetInt("userID"))
	if err := store.MarkRead(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark notification read"})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead flips every unread notification for the viewer.
func (h *NotificationHandler) MarkAllNotificationsRead(c *gin.Context) {
	store := h.registry.NotifStore(c.GetInt("userID"))
	if err := store.MarkAllRead(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark notifications read"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ProposalViewed records a proposal view and notifies its owner once per
// session; the embedded job token keeps the send idempotent across sessions.
func (h *NotificationHandler) ProposalViewed(c *gin.Context) {
	proposalID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}

	var req struct {
		OwnerID int `json:"owner_id" binding:"required"`
		JobID   int `json:"job_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	chat := h.registry.ChatStore(userID)
	store := h.registry.NotifStore(userID)
	if err := store.NotifyProposalViewed(c.Request.Context(), req.OwnerID, proposalID, req.JobID, chat.Viewer().Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record proposal view"})
		return
	}
	c.Status(http.StatusNoContent)
}
