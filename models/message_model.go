package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength bounds message text after trimming.
const MaxMessageLength = 4000

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conversation_time,priority:1" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_messages_sender_client_id,priority:1" json:"sender_id"`
	RecipientID    uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_recipient_seen,priority:1" json:"recipient_id"`
	Text           string    `gorm:"type:text;not null" json:"text"`

	// Client-supplied idempotency key; retries with the same key for the
	// same sender never create a second row.
	ClientMessageID string `gorm:"size:64;not null;uniqueIndex:idx_messages_sender_client_id,priority:2" json:"client_message_id"`

	DeliveredAt *time.Time `json:"delivered_at"`
	SeenAt      *time.Time `gorm:"index:idx_messages_recipient_seen,priority:2" json:"seen_at"`

	CreatedAt time.Time `gorm:"index:idx_messages_conversation_time,priority:2;index:idx_messages_recipient_seen,priority:3" json:"created_at"`
}
