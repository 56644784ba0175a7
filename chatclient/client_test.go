package chatclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageDuplicateIsSuccess(t *testing.T) {
	convID := uuid.New()
	original := models.Message{
		ID:              uuid.New(),
		ConversationID:  convID,
		SenderID:        uuid.New(),
		Text:            "hi",
		ClientMessageID: "k1",
	}

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			json.NewEncoder(w).Encode(map[string]interface{}{"message": original})
			return
		}
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "Duplicate message", "message": original})
	}))
	defer srv.Close()

	c := New(srv.URL, "session-token")

	sent, duplicate, err := c.SendMessage(convID, "hi", "k1")
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, original.ID, sent.ID)

	replayed, duplicate, err := c.SendMessage(convID, "hi", "k1")
	require.NoError(t, err, "a replayed send is not a failure")
	assert.True(t, duplicate)
	assert.Equal(t, original.ID, replayed.ID, "replay returns the original message")
}

func TestErrorStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "Messaging not allowed"})
	}))
	defer srv.Close()

	c := New(srv.URL, "session-token")
	_, _, err := c.SendMessage(uuid.New(), "hi", "k1")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestUnreadCountAndMessages(t *testing.T) {
	convID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/dm/unread-count":
			json.NewEncoder(w).Encode(map[string]int64{"unreadCount": 7})
		case "/api/v1/dm/conversations/" + convID.String() + "/messages":
			assert.Equal(t, "25", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"messages": []models.Message{{ID: uuid.New(), ConversationID: convID, Text: "one"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "session-token")

	count, err := c.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	msgs, err := c.Messages(convID, 25)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Text)
}
