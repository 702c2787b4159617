package chatstore

import (
	"context"
	"log"

	"inbox-service/internal/backend"
	"inbox-service/internal/convkey"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

// StartRealtime opens the change subscriptions that keep the cache live.
// The feed cannot filter on "sender OR receiver" in one predicate, so the
// store subscribes per column and per event kind and merges the streams by
// idempotent upsert. At most one set of subscriptions exists per store; a
// second call while active is a no-op.
func (s *Store) StartRealtime(ctx context.Context) error {
	s.mu.Lock()
	if len(s.subs) > 0 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	columns := []string{"sender_id", "receiver_id"}
	kinds := []backend.EventKind{backend.EventInsert, backend.EventUpdate}

	subs := make([]backend.Subscription, 0, len(columns)*len(kinds))
	for _, kind := range kinds {
		for _, column := range columns {
			sub, err := s.backend.Subscribe(ctx, messagesTable, kind, backend.Eq(column, s.viewer.ID), func(ev backend.Event) {
				s.handleEvent(ctx, ev)
			})
			if err != nil {
				for _, opened := range subs {
					_ = opened.Close()
				}
				return err
			}
			subs = append(subs, sub)
		}
	}

	s.mu.Lock()
	if len(s.subs) > 0 {
		// Lost the race against a concurrent start; keep the winner's set.
		s.mu.Unlock()
		for _, sub := range subs {
			_ = sub.Close()
		}
		return nil
	}
	s.subs = subs
	s.mu.Unlock()
	return nil
}

// StopRealtime closes the subscriptions. Idempotent.
func (s *Store) StopRealtime() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

// handleEvent merges one backend change into the cache. The raw event only
// carries the row id; the full row is re-fetched to obtain the denormalized
// participant summaries. A failed re-fetch is dropped after logging: the
// stream continues and a later event or manual refresh reconciles state.
func (s *Store) handleEvent(ctx context.Context, ev backend.Event) {
	msg, err := s.fetchEnriched(ctx, ev.RowID)
	if err != nil {
		log.Printf("chatstore: realtime re-fetch failed for row %d: %v", ev.RowID, err)
		observability.IncRealtimeEvent(string(ev.Kind), "refetch_failed")
		return
	}

	s.mu.Lock()
	merged := s.mergeLocked(ev.Kind, msg)
	if merged {
		s.deriveLocked(true)
	}
	fn := s.onMessage
	s.mu.Unlock()

	if merged {
		s.notifyChange()
		if ev.Kind == backend.EventInsert && fn != nil {
			fn(msg)
		}
		observability.IncRealtimeEvent(string(ev.Kind), "merged")
	} else {
		observability.IncRealtimeEvent(string(ev.Kind), "duplicate")
	}
}

// mergeLocked applies insert/update semantics against the key's list and
// reports whether the cache changed. Inserts dedupe by id (the client's own
// awaited send can race its realtime echo); updates replace by id and fall
// back to append when the update outran its insert.
func (s *Store) mergeLocked(kind backend.EventKind, msg models.Message) bool {
	key := convkey.Encode(msg.Sender.ID, msg.Receiver.ID)
	list := s.cache[key]

	for i := range list {
		if list[i].ID != msg.ID {
			continue
		}
		if kind == backend.EventInsert {
			return false
		}
		list[i] = msg
		return true
	}

	s.upsertLocked(msg)
	return true
}
