package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guest-gallery-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const photoColumns = `id, url, storage_key, name, size, content_type, author, author_id, created_at, like_count, liked_by`

// PhotoRepository handles database operations for photos
type PhotoRepository struct {
	db *pgxpool.Pool
}

// NewPhotoRepository creates a new photo repository
func NewPhotoRepository(db *pgxpool.Pool) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// Create creates a new photo
func (r *PhotoRepository) Create(ctx context.Context, photo *models.Photo) error {
	if photo.ID == "" {
		photo.ID = uuid.New().String()
	}
	if photo.LikedBy == nil {
		photo.LikedBy = []string{}
	}
	query := `
		INSERT INTO photos (id, url, storage_key, name, size, content_type, author, author_id, like_count, liked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		photo.ID, photo.URL, photo.StorageKey, photo.Name, photo.Size, photo.ContentType,
		photo.Author, photo.AuthorID, photo.LikeCount, photo.LikedBy,
	).Scan(&photo.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create photo: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create photo: %w", err)
	}
	return nil
}

// GetByID retrieves a photo by ID
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`
	photo, err := scanPhoto(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("photo %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	return photo, nil
}

// List retrieves a page of photos, newest first
func (r *PhotoRepository) List(ctx context.Context, limit int, after *Cursor) ([]*models.Photo, error) {
	if after == nil {
		query := `
			SELECT ` + photoColumns + `
			FROM photos
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`
		return r.query(ctx, query, limit)
	}
	query := `
		SELECT ` + photoColumns + `
		FROM photos
		WHERE (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	return r.query(ctx, query, limit, after.Timestamp, after.ID)
}

// ListByAuthor retrieves every photo uploaded by authorID, newest first
func (r *PhotoRepository) ListByAuthor(ctx context.Context, authorID string) ([]*models.Photo, error) {
	query := `
		SELECT ` + photoColumns + `
		FROM photos
		WHERE author_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.query(ctx, query, authorID)
}

// ListLikedBy retrieves every photo whose liked_by contains userID, newest first
func (r *PhotoRepository) ListLikedBy(ctx context.Context, userID string) ([]*models.Photo, error) {
	query := `
		SELECT ` + photoColumns + `
		FROM photos
		WHERE liked_by @> ARRAY[$1::text]
		ORDER BY created_at DESC, id DESC
	`
	return r.query(ctx, query, userID)
}

// ToggleLike flips the like in one statement. The CASE expressions read the row version
// being updated, so concurrent toggles serialize on the row lock.
func (r *PhotoRepository) ToggleLike(ctx context.Context, photoID, userID string) (*models.LikeResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin toggle: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE photos SET
			like_count = CASE WHEN $2::text = ANY(liked_by) THEN like_count - 1 ELSE like_count + 1 END,
			liked_by = CASE WHEN $2::text = ANY(liked_by) THEN array_remove(liked_by, $2::text) ELSE array_append(liked_by, $2::text) END
		WHERE id = $1
		RETURNING like_count, $2::text = ANY(liked_by)
	`
	var result models.LikeResult
	err = tx.QueryRow(ctx, query, photoID, userID).Scan(&result.LikeCount, &result.IsFavoritedByViewer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("photo %s: %w", photoID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to toggle like: %w", err)
	}

	favorites := `UPDATE users SET favorited_photo_ids = array_remove(favorited_photo_ids, $2) WHERE id = $1`
	if result.IsFavoritedByViewer {
		favorites = `
			UPDATE users SET favorited_photo_ids = array_append(favorited_photo_ids, $2)
			WHERE id = $1 AND NOT ($2 = ANY(favorited_photo_ids))
		`
	}
	if _, err := tx.Exec(ctx, favorites, userID, photoID); err != nil {
		return nil, fmt.Errorf("failed to update favorites: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit toggle: %w", err)
	}
	return &result, nil
}

// Delete deletes a photo by ID
func (r *PhotoRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM photos WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PhotoRepository) query(ctx context.Context, query string, args ...any) ([]*models.Photo, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get photos: %w", err)
	}
	defer rows.Close()

	photos := []*models.Photo{}
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating photos: %w", err)
	}

	return photos, nil
}

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	var photo models.Photo
	var createdAt time.Time
	err := row.Scan(
		&photo.ID, &photo.URL, &photo.StorageKey, &photo.Name, &photo.Size, &photo.ContentType,
		&photo.Author, &photo.AuthorID, &createdAt, &photo.LikeCount, &photo.LikedBy,
	)
	if err != nil {
		return nil, err
	}
	photo.Timestamp = createdAt.UTC()
	if photo.LikedBy == nil {
		photo.LikedBy = []string{}
	}
	return &photo, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
