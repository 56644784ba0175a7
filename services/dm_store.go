package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/socialverse/social-verse/apperrors"
	"github.com/socialverse/social-verse/models"
	"gorm.io/gorm"
)

// DMStore is the persistence surface the messaging core runs on.
type DMStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	FollowsEitherDirection(ctx context.Context, a, b uuid.UUID) (bool, error)
	EligibleUsers(ctx context.Context, userID uuid.UUID) ([]models.PublicProfile, error)

	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindConversationByPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)

	InsertMessage(ctx context.Context, msg *models.Message) error
	FindMessageByClientID(ctx context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	MarkSeen(ctx context.Context, conversationID, recipientID uuid.UUID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnreadInConversation(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
}

type gormDMStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) DMStore {
	return &gormDMStore{db: db}
}

func (s *gormDMStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.Unavailable("Failed to load user", err)
	}
	return &user, nil
}

func (s *gormDMStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.Unavailable("Failed to load user", err)
	}
	return &user, nil
}

func (s *gormDMStore) FollowsEitherDirection(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("user_follows").
		Where("(follower_id = ? AND followee_id = ?) OR (follower_id = ? AND followee_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, apperrors.Unavailable("Failed to check follow relationship", err)
	}
	return count > 0, nil
}

func (s *gormDMStore) EligibleUsers(ctx context.Context, userID uuid.UUID) ([]models.PublicProfile, error) {
	var profiles []models.PublicProfile
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("DISTINCT users.id, users.username, users.name, users.profile_image").
		Joins("JOIN user_follows uf ON (uf.follower_id = ? AND uf.followee_id = users.id) OR (uf.followee_id = ? AND uf.follower_id = users.id)", userID, userID).
		Scan(&profiles).Error
	if err != nil {
		return nil, apperrors.Unavailable("Failed to list eligible users", err)
	}
	return profiles, nil
}

func (s *gormDMStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Conversation not found")
		}
		return nil, apperrors.Unavailable("Failed to load conversation", err)
	}
	return &conv, nil
}

func (s *gormDMStore) FindConversationByPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		First(&conv, "participant_a_id = ? AND participant_b_id = ?", a, b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Conversation not found")
		}
		return nil, apperrors.Unavailable("Failed to load conversation", err)
	}
	return &conv, nil
}

func (s *gormDMStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.AlreadyExists("Conversation already exists")
		}
		return apperrors.Unavailable("Failed to create conversation", err)
	}
	return nil
}

func (s *gormDMStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Preload("ParticipantA").
		Preload("ParticipantB").
		Where("participant_a_id = ? OR participant_b_id = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST, updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, apperrors.Unavailable("Failed to list conversations", err)
	}
	return convs, nil
}

// InsertMessage writes the message and refreshes the conversation's
// last-message cache in one transaction; if the insert fails the
// conversation row stays untouched.
func (s *gormDMStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"last_message_text": msg.Text,
				"last_message_at":   msg.CreatedAt,
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.AlreadyExists("Duplicate message")
		}
		return apperrors.Unavailable("Failed to save message", err)
	}
	return nil
}

func (s *gormDMStore) FindMessageByClientID(ctx context.Context, senderID uuid.UUID, clientMessageID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		First(&msg, "sender_id = ? AND client_message_id = ?", senderID, clientMessageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Message not found")
		}
		return nil, apperrors.Unavailable("Failed to load message", err)
	}
	return &msg, nil
}

func (s *gormDMStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, apperrors.Unavailable("Failed to fetch messages", err)
	}
	return messages, nil
}

func (s *gormDMStore) MarkSeen(ctx context.Context, conversationID, recipientID uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND recipient_id = ? AND seen_at IS NULL", conversationID, recipientID).
		Update("seen_at", at)
	if res.Error != nil {
		return 0, apperrors.Unavailable("Failed to mark messages seen", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormDMStore) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("recipient_id = ? AND seen_at IS NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Unavailable("Failed to count unread messages", err)
	}
	return count, nil
}

func (s *gormDMStore) CountUnreadInConversation(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND recipient_id = ? AND seen_at IS NULL", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Unavailable("Failed to count unread messages", err)
	}
	return count, nil
}
