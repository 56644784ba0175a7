package chatclient

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/models"
)

// Thread holds the client-side view of one conversation. The REST
// bootstrap is the authoritative baseline; socket events and optimistic
// local sends are merged on top, deduplicated by (sender,
// clientMessageId) so a message never renders twice no matter which
// path announced it first.
type Thread struct {
	ConversationID uuid.UUID
	SelfID         uuid.UUID
	OtherID        uuid.UUID

	mu       sync.Mutex
	seen     map[string]struct{}
	messages []models.Message
}

func NewThread(conversationID, selfID, otherID uuid.UUID) *Thread {
	return &Thread{
		ConversationID: conversationID,
		SelfID:         selfID,
		OtherID:        otherID,
		seen:           make(map[string]struct{}),
	}
}

// messageKey collapses the durable row and any optimistic local copy
// of the same logical send onto one identity.
func messageKey(m models.Message) string {
	if m.SenderID != uuid.Nil && m.ClientMessageID != "" {
		return m.SenderID.String() + ":" + m.ClientMessageID
	}
	return m.ID.String()
}

// Bootstrap replaces local state with the authoritative REST page.
func (t *Thread) Bootstrap(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen = make(map[string]struct{}, len(msgs))
	t.messages = make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		t.seen[messageKey(m)] = struct{}{}
		t.messages = append(t.messages, m)
	}
	t.sortLocked()
}

// Apply merges one incoming or locally created message. Returns false
// when the message was already present and nothing changed.
func (t *Thread) Apply(m models.Message) bool {
	if m.ConversationID != t.ConversationID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := messageKey(m)
	if _, dup := t.seen[key]; dup {
		// Replace the optimistic placeholder with the server row so the
		// canonical ID and timestamps win.
		for i := range t.messages {
			if messageKey(t.messages[i]) == key && t.messages[i].ID == uuid.Nil && m.ID != uuid.Nil {
				t.messages[i] = m
				t.sortLocked()
				break
			}
		}
		return false
	}
	t.seen[key] = struct{}{}
	t.messages = append(t.messages, m)
	t.sortLocked()
	return true
}

// Compose builds the optimistic local message for a send and records
// it immediately, so the sender sees it before any round trip. The
// realtime echo of the same send later merges instead of duplicating.
func (t *Thread) Compose(text string) models.Message {
	now := time.Now().UTC()
	local := models.Message{
		ConversationID:  t.ConversationID,
		SenderID:        t.SelfID,
		RecipientID:     t.OtherID,
		Text:            text,
		ClientMessageID: newClientMessageID(),
		DeliveredAt:     &now,
		CreatedAt:       now,
	}
	t.Apply(local)
	return local
}

// Messages returns a copy of the merged view in creation order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Thread) sortLocked() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
	})
}

func newClientMessageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
