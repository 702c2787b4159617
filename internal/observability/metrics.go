package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total number of HTTP requests processed by the inbox service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	storeFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_store_fetch_duration_seconds",
			Help:    "Backend fetch latencies per store, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "outcome"},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_realtime_events_total",
			Help: "Total number of realtime change events processed.",
		},
		[]string{"kind", "outcome"},
	)
	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Total number of messages sent through the store.",
		},
	)
	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_notifications_sent_total",
			Help: "Total number of notifications sent, by kind.",
		},
		[]string{"kind"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inbox_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		storeFetchDuration,
		realtimeEventsTotal,
		messagesSentTotal,
		notificationsSentTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func ObserveStoreFetch(store string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeFetchDuration.WithLabelValues(store, outcome).Observe(elapsed.Seconds())
}

func IncRealtimeEvent(kind, outcome string) {
	realtimeEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncMessageSent() {
	messagesSentTotal.Inc()
}

func IncNotificationSent(kind string) {
	notificationsSentTotal.WithLabelValues(kind).Inc()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
