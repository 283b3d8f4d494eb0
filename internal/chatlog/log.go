// Package chatlog provides the bounded, in-memory conversation history.
package chatlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// DefaultCapacity is the number of messages kept when none is configured.
const DefaultCapacity = 256

// retiredPerSlot sizes the memory of evicted client ids relative to capacity.
const retiredPerSlot = 4

// SystemAuthorID is the author id of messages produced by the relay itself.
const SystemAuthorID = "system"

// entry guards a single message so streaming appends to different
// messages never contend with each other.
type entry struct {
	mu  sync.Mutex
	msg domain.Message
}

func (e *entry) get() domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msg
}

// Log is an append-only, FIFO-evicting window of messages.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []*entry
	index    map[string]*entry
	now      func() time.Time

	// Client-chosen ids of held messages, and of messages already evicted
	// or cleared, keyed by author.
	clients map[string]*entry
	retired *retiredKeys
}

// retiredKeys remembers a bounded number of keys, forgetting the oldest.
type retiredKeys struct {
	limit int
	order []string
	set   map[string]struct{}
}

func newRetiredKeys(limit int) *retiredKeys {
	return &retiredKeys{limit: limit, set: make(map[string]struct{})}
}

func (r *retiredKeys) add(key string) {
	if _, ok := r.set[key]; ok {
		return
	}
	r.order = append(r.order, key)
	r.set[key] = struct{}{}
	for len(r.order) > r.limit {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *retiredKeys) has(key string) bool {
	_, ok := r.set[key]
	return ok
}

func clientKey(authorID, clientID string) string {
	return authorID + "\x00" + clientID
}

// New creates a log holding at most capacity messages.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]*entry, 0, capacity),
		index:    make(map[string]*entry),
		now:      time.Now,
		clients:  make(map[string]*entry),
		retired:  newRetiredKeys(capacity * retiredPerSlot),
	}
}

// Capacity returns the maximum number of messages retained.
func (l *Log) Capacity() int {
	return l.capacity
}

// Append stores msg at the tail, assigning a fresh id and creation time, and
// evicts the oldest message once capacity is exceeded. Any id on msg is
// ignored; use ClientID to carry the id a client chose.
func (l *Log) Append(msg domain.Message) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(msg)
}

func (l *Log) appendLocked(msg domain.Message) domain.Message {
	msg.ID = NewMessageID()
	msg.CreatedAt = l.now()
	if msg.Status == "" {
		msg.Status = domain.MessageStatusSent
	}

	e := &entry{msg: msg}
	l.entries = append(l.entries, e)
	l.index[msg.ID] = e
	if msg.ClientID != "" {
		l.clients[clientKey(msg.AuthorID, msg.ClientID)] = e
	}

	for len(l.entries) > l.capacity {
		oldest := l.entries[0]
		l.entries[0] = nil
		l.entries = l.entries[1:]
		delete(l.index, oldest.msg.ID)
		l.retire(oldest)
	}
	return msg
}

// retire forgets e by client id. Author and client id never change after
// append, so they are read without the entry lock.
func (l *Log) retire(e *entry) {
	if e.msg.ClientID == "" {
		return
	}
	key := clientKey(e.msg.AuthorID, e.msg.ClientID)
	delete(l.clients, key)
	l.retired.add(key)
}

// LookupClient finds the message authorID submitted under clientID. seen
// reports whether that id was ever used; held reports whether the message
// is still in the window.
func (l *Log) LookupClient(authorID, clientID string) (msg domain.Message, held, seen bool) {
	key := clientKey(authorID, clientID)

	l.mu.RLock()
	e := l.clients[key]
	retired := l.retired.has(key)
	l.mu.RUnlock()

	if e != nil {
		return e.get(), true, true
	}
	return domain.Message{}, false, retired
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (domain.Message, bool) {
	l.mu.RLock()
	e := l.index[id]
	l.mu.RUnlock()
	if e == nil {
		return domain.Message{}, false
	}
	return e.get(), true
}

// UpdateStreaming appends delta to a message still in the streaming state.
func (l *Log) UpdateStreaming(id, delta string) (domain.Message, error) {
	l.mu.RLock()
	e := l.index[id]
	l.mu.RUnlock()
	if e == nil {
		return domain.Message{}, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.msg.Status != domain.MessageStatusStreaming {
		return e.msg, fmt.Errorf("%w: message %s is %s, not streaming", domain.ErrInvalidState, id, e.msg.Status)
	}
	e.msg.Content += delta
	return e.msg, nil
}

// Finalize moves a message to a terminal status. Finalizing an already
// terminal message is a no-op that returns the stored message.
func (l *Log) Finalize(id string, status domain.MessageStatus) (domain.Message, error) {
	if !status.Terminal() {
		return domain.Message{}, fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidState, status)
	}

	l.mu.RLock()
	e := l.index[id]
	l.mu.RUnlock()
	if e == nil {
		return domain.Message{}, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.msg.Status.Terminal() {
		return e.msg, nil
	}
	e.msg.Status = status
	return e.msg, nil
}

// Snapshot returns a copy of the current window in insertion order.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Message, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.get())
	}
	return out
}

// Len returns the number of retained messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the log and appends a single system message recording who
// cleared it. The system message is returned.
func (l *Log) Clear(clearedBy string) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		l.retire(e)
	}
	l.entries = make([]*entry, 0, l.capacity)
	l.index = make(map[string]*entry)

	if clearedBy == "" {
		clearedBy = "someone"
	}
	return l.appendLocked(domain.Message{
		AuthorID:   SystemAuthorID,
		AuthorName: "System",
		Content:    fmt.Sprintf("Chat history cleared by %s", clearedBy),
		Kind:       domain.MessageKindSystem,
		Status:     domain.MessageStatusSent,
	})
}

// NewMessageID returns a fresh, process-unique message id.
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}
