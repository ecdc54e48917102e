package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType defines the type of a persisted chat record
type MessageType string

const (
	MessageTypeText        MessageType = "TEXT"
	MessageTypeSystem      MessageType = "SYSTEM"
	MessageTypeVideoOffer  MessageType = "VIDEO_OFFER"
	MessageTypeVideoAnswer MessageType = "VIDEO_ANSWER"
	MessageTypeVideoICE    MessageType = "VIDEO_ICE"
)

// ChatMessage is one appended entry of the chat log.
type ChatMessage struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID      string      `gorm:"type:varchar(255);not null;index" json:"roomId"`
	SessionID   string      `gorm:"type:varchar(255);not null;index" json:"sessionId"`
	SenderID    *string     `gorm:"type:varchar(64)" json:"senderId,omitempty"`
	SenderRole  Role        `gorm:"type:varchar(20);not null" json:"senderRole"`
	Message     string      `gorm:"type:text;not null" json:"message"`
	MessageType MessageType `gorm:"type:varchar(20);default:'TEXT'" json:"messageType"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chats"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
