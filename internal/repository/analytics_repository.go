package repository

import (
	"context"

	"gorm.io/gorm"

	"realtime-service/internal/domain"
)

type AnalyticsRepository interface {
	RecordEvent(ctx context.Context, event *domain.SessionEvent) error
}

type analyticsRepository struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) RecordEvent(ctx context.Context, event *domain.SessionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
