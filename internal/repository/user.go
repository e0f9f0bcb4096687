package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guest-gallery-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user. A duplicate id reports ErrAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.UploadedPhotoIDs == nil {
		user.UploadedPhotoIDs = []string{}
	}
	if user.FavoritedPhotoIDs == nil {
		user.FavoritedPhotoIDs = []string{}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, name, email, profile_photo_url, uploaded_photo_ids, favorited_photo_ids, push_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		user.ID, user.Name, user.Email, user.ProfilePhotoURL,
		user.UploadedPhotoIDs, user.FavoritedPhotoIDs, user.PushToken, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, name, email, profile_photo_url, uploaded_photo_ids, favorited_photo_ids, push_token, created_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.Email, &user.ProfilePhotoURL,
		&user.UploadedPhotoIDs, &user.FavoritedPhotoIDs, &user.PushToken, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// Update merges the non-nil fields of update into the user
func (r *UserRepository) Update(ctx context.Context, id string, update models.UserUpdate) error {
	var sets []string
	args := []any{id}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	add("name", update.Name)
	add("email", update.Email)
	add("profile_photo_url", update.ProfilePhotoURL)
	add("push_token", update.PushToken)

	// An empty update still has to report a missing user.
	query := `UPDATE users SET id = id WHERE id = $1`
	if len(sets) > 0 {
		query = `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	}
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendUploadedPhoto appends photoID to uploaded_photo_ids in place
func (r *UserRepository) AppendUploadedPhoto(ctx context.Context, userID, photoID string) error {
	query := `UPDATE users SET uploaded_photo_ids = array_append(uploaded_photo_ids, $2) WHERE id = $1`
	result, err := r.db.Exec(ctx, query, userID, photoID)
	if err != nil {
		return fmt.Errorf("failed to append uploaded photo: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}
