package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"realtime-service/internal/domain"
)

// ErrUserNotFound is returned when the directory has no user with the id.
var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
