package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/parlor/internal/models"
	apperrors "github.com/charlesng35/parlor/pkg/errors"
)

// UserService is the keyed record store for identity records. It is an
// external collaborator of the session manager: a store failure is the one
// condition allowed to fail a login handshake.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a user service once a database handle is supplied.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// FindByID loads a user record by identity id. Missing records report
// apperrors.ErrNotFound so callers can distinguish "new identity" from a
// store failure.
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, apperrors.ErrBadRequest.WithInternal(errors.New("user id is required"))
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithInternal(err)
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find %s: %w", id, err)
	}

	return &user, nil
}

// Save upserts the supplied user record.
func (s *UserService) Save(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return apperrors.ErrBadRequest.WithInternal(errors.New("user record requires an id"))
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("user service: save %s: %w", user.ID, err)
	}
	return nil
}
