package backend

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

const notifyChannel = "inbox_changes"

// changePayload mirrors the JSON emitted by the notify_inbox_change trigger.
type changePayload struct {
	Table string         `json:"table"`
	Op    string         `json:"op"`
	ID    int            `json:"id"`
	Row   map[string]any `json:"row"`
}

// changeListener fans LISTEN/NOTIFY payloads out to registered subscriptions.
type changeListener struct {
	pq     *pq.Listener
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	done   chan struct{}
}

type subscription struct {
	listener *changeListener
	id       int
	table    string
	kind     EventKind
	filter   Cond
	fn       EventFunc
}

// Close deregisters the subscription. Safe to call more than once.
func (s *subscription) Close() error {
	s.listener.mu.Lock()
	defer s.listener.mu.Unlock()
	delete(s.listener.subs, s.id)
	return nil
}

func newChangeListener(dsn string) (*changeListener, error) {
	reporter := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("pq listener event %d: %v", ev, err)
		}
	}
	pqListener := pq.NewListener(dsn, 2*time.Second, time.Minute, reporter)
	if err := pqListener.Listen(notifyChannel); err != nil {
		_ = pqListener.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	l := &changeListener{
		pq:   pqListener,
		subs: make(map[int]*subscription),
		done: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *changeListener) subscribe(table string, kind EventKind, filter Cond, fn EventFunc) *subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	sub := &subscription{listener: l, id: l.nextID, table: table, kind: kind, filter: filter, fn: fn}
	l.subs[sub.id] = sub
	return sub
}

func (l *changeListener) close() error {
	close(l.done)
	return l.pq.Close()
}

func (l *changeListener) run() {
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pq.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker: subscribers reconcile via re-fetch on
				// the next event, so nothing to replay here.
				continue
			}
			l.dispatch(n.Extra)
		}
	}
}

func (l *changeListener) dispatch(raw string) {
	var payload changePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		log.Printf("change listener: bad payload: %v", err)
		return
	}

	l.mu.Lock()
	matched := make([]*subscription, 0, len(l.subs))
	for _, sub := range l.subs {
		if sub.table != payload.Table || string(sub.kind) != payload.Op {
			continue
		}
		if sub.filter.Column != "" && !columnMatches(payload.Row, sub.filter) {
			continue
		}
		matched = append(matched, sub)
	}
	l.mu.Unlock()

	event := Event{Table: payload.Table, Kind: EventKind(payload.Op), RowID: payload.ID}
	for _, sub := range matched {
		sub.fn(event)
	}
}

// columnMatches compares the filter value against the JSON row value. JSON
// numbers decode as float64, so both sides are normalized through Sprint.
func columnMatches(row map[string]any, filter Cond) bool {
	value, ok := row[filter.Column]
	if !ok {
		return false
	}
	if f, isFloat := value.(float64); isFloat {
		return fmt.Sprint(int(f)) == fmt.Sprint(filter.Value)
	}
	return fmt.Sprint(value) == fmt.Sprint(filter.Value)
}
