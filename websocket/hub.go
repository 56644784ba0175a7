package websocket

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/models"
)

// Server-to-client event names.
const (
	EventMessage     = "dm:message"
	EventUnreadCount = "dm:unread-count"
)

// Event is the frame shape for every server-to-client push.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type UnreadCountPayload struct {
	UnreadCount int64 `json:"unreadCount"`
}

// Conn is the subset of a websocket connection the hub writes to,
// narrowed so tests can substitute a recorder.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one registered connection. A user may hold several at
// once (multiple tabs or devices); each gets every event for its topic.
// The write mutex keeps hub pushes and handler acks from interleaving
// on the same connection.
type Session struct {
	UserID uuid.UUID
	conn   Conn
	mu     sync.Mutex
}

func (s *Session) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub fans events out to every live session subscribed to a user
// topic. Delivery is fire-and-forget: the message log is the source of
// truth, so a failed or absent subscriber is not an error.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[uuid.UUID]map[*Session]struct{})}
}

func (h *Hub) Register(userID uuid.UUID, conn Conn) *Session {
	s := &Session{UserID: userID, conn: conn}
	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.mu.Unlock()
	log.Printf("Socket session registered for user %s", userID)
	return s
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.UserID)
		}
	}
	h.mu.Unlock()
}

// SessionCount reports live sessions for a user topic.
func (h *Hub) SessionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

func (h *Hub) publish(userID uuid.UUID, event string, data interface{}) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.WriteJSON(Event{Event: event, Data: data}); err != nil {
			log.Printf("Dropping socket session for user %s: %v", userID, err)
			h.Unregister(s)
			_ = s.conn.Close()
		}
	}
}

// PublishMessage pushes a persisted message to every listed user
// topic. The sender is included so their other sessions render it too.
func (h *Hub) PublishMessage(msg *models.Message, userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		h.publish(id, EventMessage, msg)
	}
}

// PublishUnread pushes a freshly recomputed global unread count.
func (h *Hub) PublishUnread(userID uuid.UUID, unread int64) {
	h.publish(userID, EventUnreadCount, UnreadCountPayload{UnreadCount: unread})
}
