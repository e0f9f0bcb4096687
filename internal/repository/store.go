package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-gallery-backend/internal/models"
)

var (
	// ErrNotFound is returned when the referenced record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when inserting a record whose id is taken
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidCursor is returned when a pagination token cannot be decoded
	ErrInvalidCursor = errors.New("invalid cursor")
)

// PhotoStore is the photo document collection
type PhotoStore interface {
	// Create inserts a photo. An empty ID is assigned by the store; a zero Timestamp is set to now.
	Create(ctx context.Context, photo *models.Photo) error
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	// List returns photos ordered by timestamp descending, starting after cursor when non-nil
	List(ctx context.Context, limit int, after *Cursor) ([]*models.Photo, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*models.Photo, error)
	ListLikedBy(ctx context.Context, userID string) ([]*models.Photo, error)
	// ToggleLike flips userID's membership in likedBy and adjusts likeCount by one in a
	// single atomic update. It also keeps the user's favorites list in step when the user exists.
	ToggleLike(ctx context.Context, photoID, userID string) (*models.LikeResult, error)
	Delete(ctx context.Context, id string) error
}

// UserStore is the user document collection
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, update models.UserUpdate) error
	// AppendUploadedPhoto appends photoID to the user's uploaded list atomically
	AppendUploadedPhoto(ctx context.Context, userID, photoID string) error
}

// Cursor anchors a page to the last record of the previous page
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// CursorAfter returns the cursor for the last photo in a page, or nil for an empty page
func CursorAfter(photos []*models.Photo) *Cursor {
	if len(photos) == 0 {
		return nil
	}
	last := photos[len(photos)-1]
	return &Cursor{Timestamp: last.Timestamp, ID: last.ID}
}

// Encode returns the opaque token form of the cursor
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Timestamp.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	var ns int64
	if _, err := fmt.Sscanf(nanos, "%d", &ns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{Timestamp: time.Unix(0, ns).UTC(), ID: id}, nil
}

// before reports whether photo sorts strictly after the cursor in (timestamp desc, id desc) order
func (c *Cursor) before(p *models.Photo) bool {
	if p.Timestamp.Equal(c.Timestamp) {
		return p.ID < c.ID
	}
	return p.Timestamp.Before(c.Timestamp)
}
