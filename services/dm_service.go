package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
)

// Publisher is the fan-out side of the messaging core. Delivery is
// best-effort; the store remains the source of truth.
type Publisher interface {
	PublishMessage(msg *models.Message, userIDs ...uuid.UUID)
	PublishUnread(userID uuid.UUID, unread int64)
}

// ConversationSummary is one inbox row: the other participant's public
// profile, the last-message cache, and a freshly computed unread count.
type ConversationSummary struct {
	ID              uuid.UUID            `json:"id"`
	Other           models.PublicProfile `json:"other"`
	LastMessageText string               `json:"last_message_text"`
	LastMessageAt   *time.Time           `json:"last_message_at"`
	UnreadCount     int64                `json:"unread_count"`
}

// DMService implements the messaging core. Both the REST handlers and
// the socket send path call the same methods, so validation and
// persistence can never diverge between transports.
type DMService struct {
	store DMStore
	pub   Publisher
}

func NewDMService(store DMStore, pub Publisher) *DMService {
	return &DMService{store: store, pub: pub}
}

// CanMessage reports whether a follows b or b follows a.
func (s *DMService) CanMessage(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return s.store.FollowsEitherDirection(ctx, a, b)
}

func (s *DMService) EligibleUsers(ctx context.Context, userID uuid.UUID) ([]models.PublicProfile, error) {
	return s.store.EligibleUsers(ctx, userID)
}

// OpenConversation resolves the single conversation between the caller
// and otherUsername, creating it on first permitted contact. A
// uniqueness violation during create means another request won the
// race, so the record is re-read instead of failing.
func (s *DMService) OpenConversation(ctx context.Context, userID uuid.UUID, otherUsername string) (*models.Conversation, models.PublicProfile, error) {
	other, err := s.store.GetUserByUsername(ctx, otherUsername)
	if err != nil {
		return nil, models.PublicProfile{}, err
	}
	if other.ID == userID {
		return nil, models.PublicProfile{}, apperrors.InvalidArg("Cannot open a conversation with yourself")
	}

	allowed, err := s.CanMessage(ctx, userID, other.ID)
	if err != nil {
		return nil, models.PublicProfile{}, err
	}
	if !allowed {
		return nil, models.PublicProfile{}, apperrors.Forbidden("Messaging not allowed")
	}

	a, b := models.NormalizePair(userID, other.ID)
	conv, err := s.store.FindConversationByPair(ctx, a, b)
	if err == nil {
		return conv, other.Public(), nil
	}
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		return nil, models.PublicProfile{}, err
	}

	conv = &models.Conversation{ParticipantAID: a, ParticipantBID: b}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if apperrors.Is(err, apperrors.CodeAlreadyExists) {
			conv, err = s.store.FindConversationByPair(ctx, a, b)
			if err != nil {
				return nil, models.PublicProfile{}, err
			}
			return conv, other.Public(), nil
		}
		return nil, models.PublicProfile{}, err
	}
	return conv, other.Public(), nil
}

func (s *DMService) ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		other := conv.ParticipantA
		if conv.ParticipantAID == userID {
			other = conv.ParticipantB
		}
		unread, err := s.store.CountUnreadInConversation(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ConversationSummary{
			ID:              conv.ID,
			Other:           other.Public(),
			LastMessageText: conv.LastMessageText,
			LastMessageAt:   conv.LastMessageAt,
			UnreadCount:     unread,
		})
	}
	return summaries, nil
}

// requireMember loads the conversation and gates every per-conversation
// operation on membership.
func (s *DMService) requireMember(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a conversation member")
	}
	return conv, nil
}

func (s *DMService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]models.Message, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}
	return s.store.ListMessages(ctx, conversationID, limit)
}

// Append validates, persists, and fans out one message. Both transports
// go through here. The returned bool reports an idempotent replay: the
// message already existed under (sender, clientMessageID) and the
// original row is returned without a second insert or a second fan-out.
func (s *DMService) Append(ctx context.Context, conversationID, senderID uuid.UUID, text, clientMessageID string) (*models.Message, bool, error) {
	conv, err := s.requireMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, false, err
	}
	recipientID, _ := conv.OtherParticipant(senderID)

	allowed, err := s.CanMessage(ctx, senderID, recipientID)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		return nil, false, apperrors.Forbidden("Messaging not allowed")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, apperrors.InvalidArg("Message text required")
	}
	if len(text) > models.MaxMessageLength {
		return nil, false, apperrors.InvalidArg("Message text too long")
	}
	if clientMessageID == "" {
		return nil, false, apperrors.InvalidArg("clientMessageId required")
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ConversationID:  conversationID,
		SenderID:        senderID,
		RecipientID:     recipientID,
		Text:            text,
		ClientMessageID: clientMessageID,
		DeliveredAt:     &now,
		CreatedAt:       now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if apperrors.Is(err, apperrors.CodeAlreadyExists) {
			existing, findErr := s.store.FindMessageByClientID(ctx, senderID, clientMessageID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	s.fanOutMessage(ctx, msg)
	return msg, false, nil
}

// fanOutMessage pushes the new message to both participant topics and
// the recipient's refreshed unread count. Failures here never fail the
// send: the durable write already happened.
func (s *DMService) fanOutMessage(ctx context.Context, msg *models.Message) {
	if s.pub == nil {
		return
	}
	s.pub.PublishMessage(msg, msg.SenderID, msg.RecipientID)

	unread, err := s.store.CountUnread(ctx, msg.RecipientID)
	if err != nil {
		log.Printf("Skipping unread-count push for user %s: %v", msg.RecipientID, err)
		return
	}
	s.pub.PublishUnread(msg.RecipientID, unread)
}

// MarkSeen stamps every unseen message addressed to userID in the
// conversation. Idempotent: a repeat call affects zero rows.
func (s *DMService) MarkSeen(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	affected, err := s.store.MarkSeen(ctx, conversationID, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	if s.pub != nil {
		unread, countErr := s.store.CountUnread(ctx, userID)
		if countErr != nil {
			log.Printf("Skipping unread-count push for user %s: %v", userID, countErr)
		} else {
			s.pub.PublishUnread(userID, unread)
		}
	}
	return affected, nil
}

func (s *DMService) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.CountUnread(ctx, userID)
}
