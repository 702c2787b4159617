package handlers

import (
	"context"
	"log"
	"sync"

	"inbox-service/internal/backend"
	"inbox-service/internal/chatstore"
	"inbox-service/internal/models"
	"inbox-service/internal/notifstore"
	"inbox-service/internal/ws"
)

// Registry owns one chat store and one notification store per signed-in
// viewer, building them lazily on first use. New chat stores get their
// change callbacks bridged onto the websocket hub and their realtime feed
// started immediately, so state stays live between requests.
type Registry struct {
	mu      sync.Mutex
	backend backend.Backend
	hub     *ws.Hub
	chat    map[int]*chatstore.Store
	notif   map[int]*notifstore.Store
}

// NewRegistry builds an empty registry.
func NewRegistry(b backend.Backend, hub *ws.Hub) *Registry {
	return &Registry{
		backend: b,
		hub:     hub,
		chat:    make(map[int]*chatstore.Store),
		notif:   make(map[int]*notifstore.Store),
	}
}

// ChatStore returns the viewer's chat store, creating it on first use.
func (r *Registry) ChatStore(userID int) *chatstore.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.chat[userID]; ok {
		return store
	}

	viewer := r.lookupViewer(userID)
	store := chatstore.New(r.backend, viewer)
	if r.hub != nil {
		store.OnChange(func(conversations []models.Conversation) {
			r.hub.BroadcastConversations(userID, conversations)
		})
		store.OnMessage(func(msg models.Message) {
			r.hub.BroadcastMessage(userID, msg)
		})
	}
	if err := store.StartRealtime(context.Background()); err != nil {
		log.Printf("registry: realtime start failed for user %d: %v", userID, err)
	}
	r.chat[userID] = store
	return store
}

// NotifStore returns the viewer's notification store, creating it on first use.
func (r *Registry) NotifStore(userID int) *notifstore.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.notif[userID]; ok {
		return store
	}

	store := notifstore.New(r.backend, r.lookupViewer(userID))
	if r.hub != nil {
		store.OnChange(func(list []models.Notification) {
			if len(list) > 0 {
				r.hub.BroadcastNotification(userID, list[0])
			}
		})
	}
	r.notif[userID] = store
	return store
}

// Shutdown stops every realtime feed. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, store := range r.chat {
		store.StopRealtime()
	}
}

// lookupViewer resolves the viewer's user summary; a failed lookup leaves
// the name blank rather than blocking the session.
func (r *Registry) lookupViewer(userID int) models.UserSummary {
	var rows []models.UserSummary
	filter := backend.Filter{All: []backend.Cond{backend.Eq("id", userID)}}
	if err := r.backend.Query(context.Background(), &rows, "users", filter, backend.Order{}, 0, 0); err != nil || len(rows) == 0 {
		log.Printf("registry: viewer lookup failed for user %d: %v", userID, err)
		return models.UserSummary{ID: userID}
	}
	return rows[0]
}
