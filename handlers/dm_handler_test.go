package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
	"github.com/socialverse/social-verse/services"
	ws "github.com/socialverse/social-verse/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory DMStore for exercising the HTTP
// surface; invariants themselves are covered by the service tests.
type memStore struct {
	users   map[uuid.UUID]*models.User
	follows map[[2]uuid.UUID]bool
	convs   []*models.Conversation
	msgs    []*models.Message
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uuid.UUID]*models.User), follows: make(map[[2]uuid.UUID]bool)}
}

func (m *memStore) addUser(username string) *models.User {
	u := &models.User{ID: uuid.New(), Username: username, Name: username}
	m.users[u.ID] = u
	return u
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("User not found")
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("User not found")
}

func (m *memStore) FollowsEitherDirection(_ context.Context, a, b uuid.UUID) (bool, error) {
	return m.follows[[2]uuid.UUID{a, b}] || m.follows[[2]uuid.UUID{b, a}], nil
}

func (m *memStore) EligibleUsers(_ context.Context, userID uuid.UUID) ([]models.PublicProfile, error) {
	var out []models.PublicProfile
	for pair := range m.follows {
		if pair[0] == userID {
			out = append(out, m.users[pair[1]].Public())
		} else if pair[1] == userID {
			out = append(out, m.users[pair[0]].Public())
		}
	}
	return out, nil
}

func (m *memStore) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	for _, c := range m.convs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("Conversation not found")
}

func (m *memStore) FindConversationByPair(_ context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	for _, c := range m.convs {
		if c.ParticipantAID == a && c.ParticipantBID == b {
			return c, nil
		}
	}
	return nil, apperrors.NotFound("Conversation not found")
}

func (m *memStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	conv.ID = uuid.New()
	m.convs = append(m.convs, conv)
	return nil
}

func (m *memStore) ListConversations(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, c := range m.convs {
		if c.HasParticipant(userID) {
			withUsers := *c
			withUsers.ParticipantA = *m.users[c.ParticipantAID]
			withUsers.ParticipantB = *m.users[c.ParticipantBID]
			out = append(out, withUsers)
		}
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg *models.Message) error {
	for _, existing := range m.msgs {
		if existing.SenderID == msg.SenderID && existing.ClientMessageID == msg.ClientMessageID {
			return apperrors.AlreadyExists("Duplicate message")
		}
	}
	msg.ID = uuid.New()
	stored := *msg
	m.msgs = append(m.msgs, &stored)
	for _, c := range m.convs {
		if c.ID == msg.ConversationID {
			c.LastMessageText = msg.Text
			at := msg.CreatedAt
			c.LastMessageAt = &at
		}
	}
	return nil
}

func (m *memStore) FindMessageByClientID(_ context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error) {
	for _, msg := range m.msgs {
		if msg.SenderID == senderID && msg.ClientMessageID == clientMessageID {
			return msg, nil
		}
	}
	return nil, apperrors.NotFound("Message not found")
}

func (m *memStore) ListMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkSeen(_ context.Context, conversationID, recipientID uuid.UUID, at time.Time) (int64, error) {
	var affected int64
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.RecipientID == recipientID && msg.SeenAt == nil {
			seen := at
			msg.SeenAt = &seen
			affected++
		}
	}
	return affected, nil
}

func (m *memStore) CountUnread(_ context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	for _, msg := range m.msgs {
		if msg.RecipientID == userID && msg.SeenAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountUnreadInConversation(_ context.Context, conversationID, userID uuid.UUID) (int64, error) {
	var count int64
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.RecipientID == userID && msg.SeenAt == nil {
			count++
		}
	}
	return count, nil
}

// newTestApp mounts the DM handlers behind a stub auth middleware that
// trusts the X-Test-User header instead of verifying a JWT.
func newTestApp(t *testing.T, store services.DMStore) *fiber.App {
	t.Helper()
	InitMessaging(services.NewDMService(store, nil), ws.NewHub())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		raw := c.Get("X-Test-User")
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": raw})
		c.Locals("user", token)
		return c.Next()
	})

	dm := app.Group("/api/v1/dm")
	dm.Get("/eligible-users", EligibleUsers)
	dm.Post("/with/:username", OpenConversation)
	dm.Get("/conversations", GetConversations)
	dm.Get("/conversations/:conversationId/messages", GetConversationMessages)
	dm.Post("/conversations/:conversationId/messages", SendMessage)
	dm.Post("/conversations/:conversationId/seen", MarkConversationSeen)
	dm.Get("/unread-count", UnreadCount)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, asUser uuid.UUID, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Test-User", asUser.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	parsed := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &parsed))
	}
	return res, parsed
}

func TestSendMessageRoundTrip(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	store.follows[[2]uuid.UUID{alice.ID, bob.ID}] = true
	app := newTestApp(t, store)

	res, body := doJSON(t, app, http.MethodPost, "/api/v1/dm/with/bob", alice.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var convID uuid.UUID
	require.NoError(t, json.Unmarshal(body["conversationId"], &convID))

	sendPath := fmt.Sprintf("/api/v1/dm/conversations/%s/messages", convID)
	res, body = doJSON(t, app, http.MethodPost, sendPath, alice.ID,
		map[string]string{"text": "hi bob", "clientMessageId": "k1"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var sent models.Message
	require.NoError(t, json.Unmarshal(body["message"], &sent))
	assert.Equal(t, "hi bob", sent.Text)
	assert.Equal(t, bob.ID, sent.RecipientID)

	// Replay answers 409 and carries the original message.
	res, body = doJSON(t, app, http.MethodPost, sendPath, alice.ID,
		map[string]string{"text": "hi bob", "clientMessageId": "k1"})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	var replayed models.Message
	require.NoError(t, json.Unmarshal(body["message"], &replayed))
	assert.Equal(t, sent.ID, replayed.ID)

	res, body = doJSON(t, app, http.MethodGet, sendPath, bob.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(body["messages"], &msgs))
	require.Len(t, msgs, 1)

	res, body = doJSON(t, app, http.MethodGet, "/api/v1/dm/unread-count", bob.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "1", string(body["unreadCount"]))

	res, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/dm/conversations/%s/seen", convID), bob.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body = doJSON(t, app, http.MethodGet, "/api/v1/dm/unread-count", bob.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "0", string(body["unreadCount"]))
}

func TestOpenConversationForbidden(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	store.addUser("carol")
	app := newTestApp(t, store)

	res, body := doJSON(t, app, http.MethodPost, "/api/v1/dm/with/carol", alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Contains(t, string(body["error"]), "not allowed")
}

func TestMessagesForbiddenForNonMember(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	mallory := store.addUser("mallory")
	store.follows[[2]uuid.UUID{alice.ID, bob.ID}] = true
	app := newTestApp(t, store)

	res, body := doJSON(t, app, http.MethodPost, "/api/v1/dm/with/bob", alice.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var convID uuid.UUID
	require.NoError(t, json.Unmarshal(body["conversationId"], &convID))

	res, _ = doJSON(t, app, http.MethodGet,
		fmt.Sprintf("/api/v1/dm/conversations/%s/messages", convID), mallory.ID, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/dm/conversations/%s/messages", convID), mallory.ID,
		map[string]string{"text": "intruding", "clientMessageId": "k9"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestSendMessageValidation(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	store.follows[[2]uuid.UUID{alice.ID, bob.ID}] = true
	app := newTestApp(t, store)

	res, body := doJSON(t, app, http.MethodPost, "/api/v1/dm/with/bob", alice.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var convID uuid.UUID
	require.NoError(t, json.Unmarshal(body["conversationId"], &convID))
	sendPath := fmt.Sprintf("/api/v1/dm/conversations/%s/messages", convID)

	res, _ = doJSON(t, app, http.MethodPost, sendPath, alice.ID,
		map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "missing idempotency key")

	res, _ = doJSON(t, app, http.MethodPost, sendPath, alice.ID,
		map[string]string{"text": "   ", "clientMessageId": "k2"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "whitespace-only text")

	res, _ = doJSON(t, app, http.MethodGet, "/api/v1/dm/conversations/not-a-uuid/messages", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConversationSummaries(t *testing.T) {
	store := newMemStore()
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	store.follows[[2]uuid.UUID{bob.ID, alice.ID}] = true
	app := newTestApp(t, store)

	res, body := doJSON(t, app, http.MethodPost, "/api/v1/dm/with/bob", alice.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var convID uuid.UUID
	require.NoError(t, json.Unmarshal(body["conversationId"], &convID))

	_, _ = doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/dm/conversations/%s/messages", convID), alice.ID,
		map[string]string{"text": "hello", "clientMessageId": "k1"})

	res, body = doJSON(t, app, http.MethodGet, "/api/v1/dm/conversations", bob.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var summaries []services.ConversationSummary
	require.NoError(t, json.Unmarshal(body["conversations"], &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "alice", summaries[0].Other.Username)
	assert.Equal(t, "hello", summaries[0].LastMessageText)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
}
