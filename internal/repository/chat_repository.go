package repository

import (
	"context"

	"gorm.io/gorm"

	"realtime-service/internal/domain"
)

// ChatRepository is append-only from the coordinator's point of view.
type ChatRepository interface {
	AppendMessage(ctx context.Context, message *domain.ChatMessage) error
}

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) AppendMessage(ctx context.Context, message *domain.ChatMessage) error {
	if message.MessageType == "" {
		message.MessageType = domain.MessageTypeText
	}
	return r.db.WithContext(ctx).Create(message).Error
}
