package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionType classifies an analytics record.
type SessionType string

const (
	SessionTypeChat           SessionType = "CHAT"
	SessionTypeAppointment    SessionType = "APPOINTMENT"
	SessionTypeMeditationView SessionType = "MEDITATION_VIEW"
	SessionTypeResourceAccess SessionType = "RESOURCE_ACCESS"
)

// SessionEvent is a best-effort usage record.
type SessionEvent struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string            `gorm:"type:varchar(64);not null;index" json:"userId"`
	SessionType SessionType       `gorm:"type:varchar(30);not null;index" json:"sessionType"`
	Duration    *int              `json:"duration,omitempty"`
	ResourceID  string            `gorm:"type:varchar(255)" json:"resourceId,omitempty"`
	Date        time.Time         `gorm:"index" json:"date"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
}

func (SessionEvent) TableName() string {
	return "session_analytics"
}

func (e *SessionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	return nil
}
