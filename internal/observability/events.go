package observability

const serviceName = "inbox-service"

// EventEnvelope wraps operational events (websocket lifecycle, realtime
// sync) published to the event bus. Service is stamped on publish so the
// consumer can fan events out per emitting service.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Service   string      `json:"service,omitempty"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles AMQP headers carrying request correlation ids.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
