package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a one-to-one thread between two users. The pair is
// stored in canonical order (lexicographically smaller ID first) so the
// unique index holds regardless of which side initiated contact.
type Conversation struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ParticipantAID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair,priority:1" json:"participant_a_id"`
	ParticipantBID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair,priority:2" json:"participant_b_id"`

	// Display cache for inbox sorting. The message log stays authoritative.
	LastMessageText string     `gorm:"type:text;not null;default:''" json:"last_message_text"`
	LastMessageAt   *time.Time `gorm:"index" json:"last_message_at"`

	ParticipantA User `gorm:"foreignkey:ParticipantAID" json:"-"`
	ParticipantB User `gorm:"foreignkey:ParticipantBID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizePair orders two user IDs canonically.
func NormalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantAID == userID || c.ParticipantBID == userID
}

// OtherParticipant returns the participant that is not userID. The
// second return value is false when userID is not a member at all.
func (c *Conversation) OtherParticipant(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.ParticipantAID:
		return c.ParticipantBID, true
	case c.ParticipantBID:
		return c.ParticipantAID, true
	}
	return uuid.Nil, false
}
