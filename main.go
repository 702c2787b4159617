package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"inbox-service/internal/backend"
	"inbox-service/internal/config"
	"inbox-service/internal/handlers"
	"inbox-service/internal/middleware"
	"inbox-service/internal/observability"
	"inbox-service/internal/rabbitmq"
	"inbox-service/internal/telemetry"
	"inbox-service/internal/ws"
)

func main() {
	cfg := config.Load()

	shutdownTracing := observability.InitTracer(context.Background(), cfg.OTLPEndpoint, "inbox-service")
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	store, err := backend.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to backend: %v", err)
	}
	defer store.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("audit publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	if eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventsPublisher)
		defer eventsPublisher.Close()
	} else {
		log.Printf("ws events publisher disabled: %v", err)
	}

	emitter := telemetry.NewAuditEmitter(publisher, "audit.inbox", "inbox-service", cfg.Environment)

	hub := ws.NewHub()
	registry := handlers.NewRegistry(store, hub)
	defer registry.Shutdown()

	validator := middleware.NewJWTValidator(cfg.JWTSecret)

	inboxHandler := handlers.NewInboxHandler(registry, emitter)
	notificationHandler := handlers.NewNotificationHandler(registry, emitter)
	inboxWS := ws.NewInboxWebSocketHandler(hub, validator)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("inbox-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/conversations", authMiddleware, inboxHandler.ListConversations)
	router.GET("/conversations/more", authMiddleware, inboxHandler.MoreConversations)
	router.GET("/conversations/:key/messages", authMiddleware, inboxHandler.GetMessages)
	router.GET("/conversations/:key/messages/more", authMiddleware, inboxHandler.MoreMessages)
	router.POST("/conversations/:key/read", authMiddleware, inboxHandler.MarkConversationRead)
	router.POST("/messages", authMiddleware, inboxHandler.PostMessage)

	router.GET("/notifications", authMiddleware, notificationHandler.ListNotifications)
	router.GET("/notifications/more", authMiddleware, notificationHandler.MoreNotifications)
	router.POST("/notifications", authMiddleware, notificationHandler.PostNotification)
	router.POST("/notifications/:id/read", authMiddleware, notificationHandler.MarkNotificationRead)
	router.POST("/notifications/read-all", authMiddleware, notificationHandler.MarkAllNotificationsRead)
	router.POST("/proposals/:id/viewed", authMiddleware, notificationHandler.ProposalViewed)

	router.GET("/ws/inbox", inboxWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, cfg.Debug)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
