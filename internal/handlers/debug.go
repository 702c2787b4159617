package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inbox-service/internal/observability"
	"inbox-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints for poking the audit and
// event pipelines without going through a real inbox action.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditPayload{Action: "audit_test"}, requestIDFromContext(c), auditUserID(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/event-test", func(c *gin.Context) {
		err := observability.PublishEvent(c.Request.Context(), "ws_events.inbox", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "debug_test",
			Payload:   gin.H{"source": "debug"},
		}, observability.BuildHeaders(requestIDFromContext(c), ""))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "event publish failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
