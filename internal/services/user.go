package services

import (
	"context"
	"errors"
	"fmt"

	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// UserService handles user-related business logic
type UserService struct {
	userRepo repository.UserStore
}

// NewUserService creates a new user service
func NewUserService(userRepo repository.UserStore) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

// CreateUser inserts a user record and returns its id.
// A record with the same id already present is reported as ErrAlreadyExists.
func (s *UserService) CreateUser(ctx context.Context, profile *models.User) (string, error) {
	if profile == nil || profile.Name == "" {
		return "", fmt.Errorf("create user: %w: name is required", ErrInvalidInput)
	}

	user := *profile
	if err := s.userRepo.Create(ctx, &user); err != nil {
		return "", classify("create user", err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Msg("User created")

	return user.ID, nil
}

// GetUser retrieves a user. A missing user yields (nil, nil).
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, classify("get user", err)
	}
	return user, nil
}

// UpdateUser merges the given fields into the user
func (s *UserService) UpdateUser(ctx context.Context, userID string, update models.UserUpdate) error {
	if update.Name != nil && *update.Name == "" {
		return fmt.Errorf("update user: %w: name cannot be empty", ErrInvalidInput)
	}
	if err := s.userRepo.Update(ctx, userID, update); err != nil {
		return classify("update user", err)
	}
	return nil
}
