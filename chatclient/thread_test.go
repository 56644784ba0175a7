package chatclient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThread() (*Thread, uuid.UUID, uuid.UUID) {
	self := uuid.New()
	other := uuid.New()
	return NewThread(uuid.New(), self, other), self, other
}

func serverMessage(t *Thread, sender uuid.UUID, text, clientID string, at time.Time) models.Message {
	recipient := t.OtherID
	if sender == t.OtherID {
		recipient = t.SelfID
	}
	return models.Message{
		ID:              uuid.New(),
		ConversationID:  t.ConversationID,
		SenderID:        sender,
		RecipientID:     recipient,
		Text:            text,
		ClientMessageID: clientID,
		CreatedAt:       at,
	}
}

func TestBootstrapOrdersAndSeedsDedup(t *testing.T) {
	thread, _, other := testThread()
	base := time.Now().UTC()

	m1 := serverMessage(thread, other, "first", "c1", base)
	m2 := serverMessage(thread, other, "second", "c2", base.Add(time.Second))
	thread.Bootstrap([]models.Message{m2, m1})

	msgs := thread.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)

	// Realtime echo of an already fetched message merges silently.
	assert.False(t, thread.Apply(m1))
	assert.Equal(t, 2, thread.Len())
}

func TestApplyDeduplicatesByIdempotencyKey(t *testing.T) {
	thread, _, other := testThread()
	at := time.Now().UTC()

	first := serverMessage(thread, other, "hello", "c1", at)
	assert.True(t, thread.Apply(first))

	// Same logical send seen again under a different row snapshot.
	again := first
	again.ID = uuid.New()
	assert.False(t, thread.Apply(again))
	assert.Equal(t, 1, thread.Len())
}

func TestApplyIgnoresOtherConversations(t *testing.T) {
	thread, _, other := testThread()
	msg := serverMessage(thread, other, "stray", "c1", time.Now().UTC())
	msg.ConversationID = uuid.New()

	assert.False(t, thread.Apply(msg))
	assert.Zero(t, thread.Len())
}

func TestOptimisticSendReconciledByEcho(t *testing.T) {
	thread, self, _ := testThread()

	local := thread.Compose("hi there")
	require.Equal(t, 1, thread.Len(), "optimistic message renders immediately")
	assert.Equal(t, uuid.Nil, local.ID, "local copy has no server ID yet")
	assert.NotEmpty(t, local.ClientMessageID)

	// The durable row comes back over the socket with the same key.
	echo := local
	echo.ID = uuid.New()
	assert.False(t, thread.Apply(echo), "echo merges rather than duplicating")

	msgs := thread.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, echo.ID, msgs[0].ID, "server row replaces the placeholder")
	assert.Equal(t, self, msgs[0].SenderID)
}

func TestInterleavedRestAndRealtime(t *testing.T) {
	thread, _, other := testThread()
	base := time.Now().UTC()

	// REST baseline.
	m1 := serverMessage(thread, other, "one", "c1", base)
	thread.Bootstrap([]models.Message{m1})

	// Our optimistic send, then a realtime message from the peer, then
	// the echo of our own send arriving last.
	local := thread.Compose("two")
	m3 := serverMessage(thread, other, "three", "c3", base.Add(2*time.Second))
	assert.True(t, thread.Apply(m3))

	echo := local
	echo.ID = uuid.New()
	assert.False(t, thread.Apply(echo))

	msgs := thread.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, "three", msgs[2].Text)
}

func TestComposeGeneratesUniqueKeys(t *testing.T) {
	thread, _, _ := testThread()
	a := thread.Compose("a")
	b := thread.Compose("b")
	assert.NotEqual(t, a.ClientMessageID, b.ClientMessageID)
	assert.Equal(t, 2, thread.Len())
}
