// Package notifstore maintains the in-memory, paginated notification list
// for one viewer, with content-token dedupe against the backend and
// optimistic local inserts reconciled once the backend confirms.
package notifstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"inbox-service/internal/backend"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

// PageSize is the fixed notification window fetched per page.
const PageSize = 20

const notificationsTable = "notifications"

var ErrInvalidKind = errors.New("disallowed notification kind")

// Store holds one viewer's notification cache, newest first.
type Store struct {
	mu      sync.Mutex
	backend backend.Backend
	viewer  models.UserSummary

	cache   []models.Notification
	page    int
	hasMore bool
	loading bool
	more    bool
	gen     int
	lastErr error

	// Placeholder entries carry negative ids until the backend confirms.
	nextTempID int
	pending    map[int]struct{}

	// Session-scoped set of proposals already acted on; weaker than the
	// content-token check against the backend, consulted first.
	viewedProposals map[int]struct{}

	onChange func([]models.Notification)
}

// New builds an empty store for one viewer.
func New(b backend.Backend, viewer models.UserSummary) *Store {
	return &Store{
		backend:         b,
		viewer:          viewer,
		hasMore:         true,
		pending:         make(map[int]struct{}),
		viewedProposals: make(map[int]struct{}),
	}
}

// OnChange registers the callback invoked after every cache mutation.
func (s *Store) OnChange(fn func([]models.Notification)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Notifications returns the cached list, newest first.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, len(s.cache))
	copy(out, s.cache)
	return out
}

// UnreadCount counts cached notifications without a read timestamp.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.cache {
		if n.ReadAt == nil {
			count++
		}
	}
	return count
}

// HasMore reports whether older pages remain.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// LastError returns the most recent read-path failure.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// FetchPage loads the newest notification window, replacing the cache.
// An in-flight fetch makes the call a no-op.
func (s *Store) FetchPage(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	rows, err := s.queryWindow(ctx, 0)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.cache = rows
	s.page = 1
	s.hasMore = len(rows) == PageSize
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// FetchMore appends the next older page. No-ops when exhausted or busy.
func (s *Store) FetchMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || s.loading || s.more {
		s.mu.Unlock()
		return nil
	}
	s.more = true
	from := s.page * PageSize
	s.mu.Unlock()

	rows, err := s.queryWindow(ctx, from)

	s.mu.Lock()
	s.more = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	s.cache = append(s.cache, rows...)
	s.page++
	s.hasMore = len(rows) == PageSize
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Store) queryWindow(ctx context.Context, from int) ([]models.Notification, error) {
	start := time.Now()
	var rows []models.Notification
	filter := backend.Filter{All: []backend.Cond{backend.Eq("target_user_id", s.viewer.ID)}}
	order := backend.Order{Column: "created_at", Desc: true}
	err := s.backend.Query(ctx, &rows, notificationsTable, filter, order, from, from+PageSize-1)
	observability.ObserveStoreFetch("notifications", time.Since(start), err)
	return rows, err
}

// Send creates a notification for another user. When jobRef is set the
// content embeds a [job:N] token and an existing notification carrying the
// same token for the same target makes the call an idempotent no-op that
// returns the existing row. Locally the entry appears immediately under a
// negative placeholder id and is swapped for the confirmed row; a failed
// insert rolls the placeholder back.
func (s *Store) Send(ctx context.Context, targetID int, kind, content string, jobRef int) (models.Notification, error) {
	if !models.AllowedNotificationKind(kind) {
		return models.Notification{}, ErrInvalidKind
	}

	if jobRef > 0 {
		token := models.JobRefToken(jobRef)
		if !strings.Contains(content, token) {
			content = content + " " + token
		}
		existing, found, err := s.findByToken(ctx, targetID, token)
		if err != nil {
			return models.Notification{}, err
		}
		if found {
			return existing, nil
		}
	}

	s.mu.Lock()
	s.nextTempID--
	temp := models.Notification{
		ID:           s.nextTempID,
		TargetUserID: targetID,
		Kind:         kind,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
	s.pending[temp.ID] = struct{}{}
	s.cache = append([]models.Notification{temp}, s.cache...)
	s.mu.Unlock()
	s.notifyChange()

	var confirmed models.Notification
	row := map[string]any{
		"target_user_id": targetID,
		"kind":           kind,
		"content":        content,
	}
	err := s.backend.Insert(ctx, &confirmed, notificationsTable, row)

	s.mu.Lock()
	s.removeLocked(temp.ID)
	delete(s.pending, temp.ID)
	if err == nil {
		s.cache = append([]models.Notification{confirmed}, s.cache...)
	}
	s.mu.Unlock()
	s.notifyChange()

	if err != nil {
		return models.Notification{}, err
	}
	observability.IncNotificationSent(kind)
	return confirmed, nil
}

func (s *Store) findByToken(ctx context.Context, targetID int, token string) (models.Notification, bool, error) {
	var rows []models.Notification
	filter := backend.Filter{All: []backend.Cond{
		backend.Eq("target_user_id", targetID),
		backend.Like("content", "%"+token+"%"),
	}}
	if err := s.backend.Query(ctx, &rows, notificationsTable, filter, backend.Order{}, 0, 0); err != nil {
		return models.Notification{}, false, err
	}
	if len(rows) == 0 {
		return models.Notification{}, false, nil
	}
	return rows[0], true, nil
}

// MarkRead sets read_at locally first, then updates the backend without
// waiting on the result. A cached entry that is already read issues no
// backend call. An id outside the cached window still gets the remote
// update; the read_at IS NULL filter keeps it idempotent.
func (s *Store) MarkRead(ctx context.Context, id int) error {
	now := time.Now().UTC()

	s.mu.Lock()
	flipped := false
	for i := range s.cache {
		if s.cache[i].ID != id {
			continue
		}
		if s.cache[i].ReadAt != nil {
			s.mu.Unlock()
			return nil
		}
		s.cache[i].ReadAt = &now
		flipped = true
		break
	}
	s.mu.Unlock()

	if flipped {
		s.notifyChange()
	}

	filter := backend.Filter{All: []backend.Cond{backend.Eq("id", id), backend.IsNull("read_at")}}
	if err := s.backend.Update(ctx, notificationsTable, filter, map[string]any{"read_at": now}); err != nil {
		log.Printf("notifstore: mark read %d failed: %v", id, err)
	}
	return nil
}

// MarkAllRead flips every unread cached entry and issues one bulk update.
func (s *Store) MarkAllRead(ctx context.Context) error {
	now := time.Now().UTC()

	s.mu.Lock()
	flipped := false
	for i := range s.cache {
		if s.cache[i].ReadAt == nil {
			s.cache[i].ReadAt = &now
			flipped = true
		}
	}
	s.mu.Unlock()

	if flipped {
		s.notifyChange()
	}

	filter := backend.Filter{All: []backend.Cond{
		backend.Eq("target_user_id", s.viewer.ID),
		backend.IsNull("read_at"),
	}}
	if err := s.backend.Update(ctx, notificationsTable, filter, map[string]any{"read_at": now}); err != nil {
		log.Printf("notifstore: mark all read failed: %v", err)
	}
	return nil
}

// MarkProposalViewed records a proposal as acted on for this session.
func (s *Store) MarkProposalViewed(proposalID int) {
	s.mu.Lock()
	s.viewedProposals[proposalID] = struct{}{}
	s.mu.Unlock()
}

// ProposalViewed reports whether the proposal was already acted on in this
// session.
func (s *Store) ProposalViewed(proposalID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.viewedProposals[proposalID]
	return ok
}

// NotifyProposalViewed sends the "proposal viewed" notification at most once
// per session per proposal; the content token keeps it idempotent across
// sessions as well.
func (s *Store) NotifyProposalViewed(ctx context.Context, targetID, proposalID, jobID int, viewerName string) error {
	if s.ProposalViewed(proposalID) {
		return nil
	}
	s.MarkProposalViewed(proposalID)
	content := fmt.Sprintf("%s viewed your proposal", viewerName)
	_, err := s.Send(ctx, targetID, models.NotificationViewed, content, jobID)
	return err
}

// NotifyNewMessage sends a plain new-message notification.
func (s *Store) NotifyNewMessage(ctx context.Context, targetID int, senderName string) error {
	content := fmt.Sprintf("New message from %s", senderName)
	_, err := s.Send(ctx, targetID, models.NotificationMessage, content, 0)
	return err
}

func (s *Store) removeLocked(id int) {
	for i := range s.cache {
		if s.cache[i].ID == id {
			s.cache = append(s.cache[:i], s.cache[i+1:]...)
			return
		}
	}
}

func (s *Store) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	out := make([]models.Notification, len(s.cache))
	copy(out, s.cache)
	s.mu.Unlock()
	if fn != nil {
		fn(out)
	}
}
