// Package chatstore maintains the in-memory, paginated, realtime-updated
// view of the viewer's conversations. The per-key ascending message lists
// are the unit of truth; conversation summaries are derived from them after
// every mutation.
package chatstore

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"inbox-service/internal/backend"
	"inbox-service/internal/convkey"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

// Fixed page sizes used against the backend.
const (
	ConversationPageSize = 20
	MessagePageSize      = 50
)

const (
	messagesTable = "messages"
	messagesView  = "messages_with_users"
)

var (
	ErrEmptyMessage   = errors.New("empty message content")
	ErrNotParticipant = errors.New("viewer is not a conversation participant")
)

// pageState is the pagination cursor for one conversation's message window.
type pageState struct {
	page        int
	hasMore     bool
	loading     bool
	loadingMore bool
	gen         int
}

// Store holds one viewer's message cache. Handlers and the realtime
// dispatcher mutate it concurrently; the mutex provides memory safety while
// the loading flags keep the original duplicate-fetch suppression contract.
// Merges stay idempotent by message id, so overlapping writers converge.
type Store struct {
	mu      sync.Mutex
	backend backend.Backend
	viewer  models.UserSummary

	cache map[string][]models.Message
	pages map[string]*pageState

	convPage        int
	convHasMore     bool
	convLoading     bool
	convLoadingMore bool
	convGen         int
	displayed       int

	conversations []models.Conversation
	lastErr       error

	subs []backend.Subscription

	onChange  func([]models.Conversation)
	onMessage func(models.Message)
}

// New builds an empty store for one viewer. Stores are explicit instances,
// never process-wide singletons, so tests and multiple sessions can hold
// independent caches.
func New(b backend.Backend, viewer models.UserSummary) *Store {
	return &Store{
		backend:     b,
		viewer:      viewer,
		cache:       make(map[string][]models.Message),
		pages:       make(map[string]*pageState),
		convHasMore: true,
	}
}

// Viewer returns the identity the store is scoped to.
func (s *Store) Viewer() models.UserSummary { return s.viewer }

// OnChange registers the callback invoked with the refreshed disclosed
// conversation list after every cache mutation.
func (s *Store) OnChange(fn func([]models.Conversation)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnMessage registers the callback invoked for every message newly merged
// from the realtime feed.
func (s *Store) OnMessage(fn func(models.Message)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// Conversations returns the disclosed conversation list.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Messages returns the cached ascending message list for a conversation.
func (s *Store) Messages(key string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.cache[key]))
	copy(out, s.cache[key])
	return out
}

// HasMoreMessages reports whether older pages remain for a conversation.
func (s *Store) HasMoreMessages(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.pages[key]
	if !ok {
		return true
	}
	return state.hasMore
}

// HasMoreConversations reports whether older conversation pages remain.
func (s *Store) HasMoreConversations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convHasMore
}

// LastError returns the most recent read-path failure, for the UI to surface.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// FetchConversations loads the first window of the viewer's conversations by
// pulling the newest message rows involving the viewer and grouping them
// into the cache. A fetch already in flight makes the call a no-op.
func (s *Store) FetchConversations(ctx context.Context) error {
	s.mu.Lock()
	if s.convLoading {
		s.mu.Unlock()
		return nil
	}
	s.convLoading = true
	s.convGen++
	gen := s.convGen
	s.mu.Unlock()

	rows, err := s.queryConversationWindow(ctx, 0)

	s.mu.Lock()
	s.convLoading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	if gen != s.convGen {
		// A later fetch superseded this one; do not clobber its result.
		s.mu.Unlock()
		return nil
	}
	for _, row := range rows {
		s.upsertLocked(row.Message())
	}
	s.convPage = 1
	s.convHasMore = len(rows) == ConversationPageSize
	s.deriveLocked(false)
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// FetchMoreConversations extends the conversation window by one page.
// No-ops while a fetch is in flight or once the backend is exhausted.
func (s *Store) FetchMoreConversations(ctx context.Context) error {
	s.mu.Lock()
	if !s.convHasMore || s.convLoading || s.convLoadingMore {
		s.mu.Unlock()
		return nil
	}
	s.convLoadingMore = true
	from := s.convPage * ConversationPageSize
	s.mu.Unlock()

	rows, err := s.queryConversationWindow(ctx, from)

	s.mu.Lock()
	s.convLoadingMore = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	for _, row := range rows {
		s.upsertLocked(row.Message())
	}
	s.convPage++
	s.convHasMore = len(rows) == ConversationPageSize
	s.deriveLocked(false)
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Store) queryConversationWindow(ctx context.Context, from int) ([]models.MessageRow, error) {
	start := time.Now()
	var rows []models.MessageRow
	filter := backend.Filter{Any: []backend.Cond{
		backend.Eq("sender_id", s.viewer.ID),
		backend.Eq("receiver_id", s.viewer.ID),
	}}
	order := backend.Order{Column: "created_at", Desc: true}
	err := s.backend.Query(ctx, &rows, messagesView, filter, order, from, from+ConversationPageSize-1)
	observability.ObserveStoreFetch("conversations", time.Since(start), err)
	return rows, err
}

// FetchMessages loads the newest message page for one conversation,
// replacing the cached list. The viewer must be one of the key's two
// participants. An in-flight fetch suppresses the call unless forced. A
// successful fetch marks the conversation read for the viewer.
func (s *Store) FetchMessages(ctx context.Context, key string, force bool) error {
	first, second, err := convkey.Decode(key)
	if err != nil {
		return err
	}
	if _, err := s.otherParty(first, second); err != nil {
		return err
	}

	s.mu.Lock()
	state := s.pageStateLocked(key)
	if state.loading && !force {
		s.mu.Unlock()
		return nil
	}
	state.loading = true
	state.gen++
	gen := state.gen
	s.mu.Unlock()

	rows, err := s.queryMessageWindow(ctx, first, second, 0)

	s.mu.Lock()
	state.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	if gen != state.gen {
		s.mu.Unlock()
		return nil
	}
	s.cache[key] = ascending(rows)
	state.page = 1
	state.hasMore = len(rows) == MessagePageSize
	s.deriveLocked(true)
	s.mu.Unlock()

	s.notifyChange()

	// Opening a conversation counts as reading it.
	if err := s.MarkConversationRead(ctx, key); err != nil {
		log.Printf("chatstore: mark read after fetch failed for %s: %v", key, err)
	}
	return nil
}

// FetchMoreMessages prepends the next older page to the cached list. Like
// FetchMessages, only a participant may call it.
func (s *Store) FetchMoreMessages(ctx context.Context, key string) error {
	first, second, err := convkey.Decode(key)
	if err != nil {
		return err
	}
	if _, err := s.otherParty(first, second); err != nil {
		return err
	}

	s.mu.Lock()
	state := s.pageStateLocked(key)
	if !state.hasMore || state.loading || state.loadingMore {
		s.mu.Unlock()
		return nil
	}
	state.loadingMore = true
	from := state.page * MessagePageSize
	s.mu.Unlock()

	rows, err := s.queryMessageWindow(ctx, first, second, from)

	s.mu.Lock()
	state.loadingMore = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	s.cache[key] = append(ascending(rows), s.cache[key]...)
	state.page++
	state.hasMore = len(rows) == MessagePageSize
	s.deriveLocked(true)
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Store) queryMessageWindow(ctx context.Context, first, second, from int) ([]models.MessageRow, error) {
	start := time.Now()
	var rows []models.MessageRow
	pair := []int{first, second}
	filter := backend.Filter{All: []backend.Cond{
		backend.In("sender_id", pair),
		backend.In("receiver_id", pair),
	}}
	order := backend.Order{Column: "created_at", Desc: true}
	err := s.backend.Query(ctx, &rows, messagesView, filter, order, from, from+MessagePageSize-1)
	observability.ObserveStoreFetch("messages", time.Since(start), err)
	return rows, err
}

// Send inserts a message and appends the backend-confirmed, enriched row to
// the cache. The insert is awaited before the cache is touched, so no
// temporary id is needed; concurrent sends race and land in completion
// order.
func (s *Store) Send(ctx context.Context, receiverID int, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	var inserted models.MessageRow
	row := map[string]any{
		"sender_id":   s.viewer.ID,
		"receiver_id": receiverID,
		"content":     content,
	}
	if err := s.backend.Insert(ctx, &inserted, messagesTable, row); err != nil {
		return models.Message{}, err
	}

	msg, err := s.fetchEnriched(ctx, inserted.ID)
	if err != nil {
		// The row exists remotely; the realtime echo will merge it.
		log.Printf("chatstore: enrich after send failed for message %d: %v", inserted.ID, err)
		msg = inserted.Message()
		msg.Sender = s.viewer
	}

	s.mu.Lock()
	s.upsertLocked(msg)
	s.deriveLocked(true)
	s.mu.Unlock()

	s.notifyChange()
	observability.IncMessageSent()
	return msg, nil
}

// MarkConversationRead flips every unread message addressed to the viewer in
// the given conversation, remotely and in the cache.
func (s *Store) MarkConversationRead(ctx context.Context, key string) error {
	first, second, err := convkey.Decode(key)
	if err != nil {
		return err
	}
	other, err := s.otherParty(first, second)
	if err != nil {
		return err
	}

	s.mu.Lock()
	dirty := false
	list := s.cache[key]
	for i := range list {
		if list[i].Receiver.ID == s.viewer.ID && !list[i].IsRead {
			list[i].IsRead = true
			dirty = true
		}
	}
	if dirty {
		s.deriveLocked(true)
	}
	s.mu.Unlock()

	if dirty {
		s.notifyChange()
	}

	filter := backend.Filter{All: []backend.Cond{
		backend.Eq("sender_id", other),
		backend.Eq("receiver_id", s.viewer.ID),
		backend.Eq("is_read", false),
	}}
	patch := map[string]any{"is_read": true, "updated_at": time.Now().UTC()}
	return s.backend.Update(ctx, messagesTable, filter, patch)
}

func (s *Store) otherParty(first, second int) (int, error) {
	switch s.viewer.ID {
	case first:
		return second, nil
	case second:
		return first, nil
	}
	return 0, ErrNotParticipant
}

func (s *Store) fetchEnriched(ctx context.Context, id int) (models.Message, error) {
	var rows []models.MessageRow
	filter := backend.Filter{All: []backend.Cond{backend.Eq("id", id)}}
	if err := s.backend.Query(ctx, &rows, messagesView, filter, backend.Order{}, 0, 0); err != nil {
		return models.Message{}, err
	}
	if len(rows) == 0 {
		return models.Message{}, errors.New("message row not found")
	}
	return rows[0].Message(), nil
}

// pageStateLocked returns the pagination cursor for key, creating it on
// first use with hasMore=true.
func (s *Store) pageStateLocked(key string) *pageState {
	state, ok := s.pages[key]
	if !ok {
		state = &pageState{hasMore: true}
		s.pages[key] = state
	}
	return state
}

// upsertLocked merges one message into its conversation list, keeping the
// list ascending by created_at and unique by id.
func (s *Store) upsertLocked(msg models.Message) {
	key := convkey.Encode(msg.Sender.ID, msg.Receiver.ID)
	list := s.cache[key]
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return
		}
	}
	pos := len(list)
	for pos > 0 && list[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}
	list = append(list, models.Message{})
	copy(list[pos+1:], list[pos:])
	list[pos] = msg
	s.cache[key] = list
}

// deriveLocked recomputes conversation summaries from the cache. When
// reslice is set the disclosed length is preserved, so background cache
// growth does not reveal rows beyond what pagination already disclosed.
func (s *Store) deriveLocked(reslice bool) {
	derived := Aggregate(s.cache, s.viewer)
	if reslice && s.displayed > 0 && len(derived) > s.displayed {
		derived = derived[:s.displayed]
	}
	if !reslice {
		s.displayed = len(derived)
	}
	s.conversations = derived
}

func (s *Store) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	s.mu.Unlock()
	if fn != nil {
		fn(out)
	}
}

// ascending reverses a newest-first page into storage order.
func ascending(rows []models.MessageRow) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i].Message())
	}
	return out
}
