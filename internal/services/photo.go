package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/notify"
	"guest-gallery-backend/internal/repository"
	"guest-gallery-backend/internal/storage"
	"guest-gallery-backend/internal/validation"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultPageSize is used when a list request does not name a limit
	DefaultPageSize = 10
	// MaxPageSize caps a single page
	MaxPageSize = 100

	anonymousNamespace = "anonymous"

	// maxPendingNotifications bounds the like notifications in flight at once
	maxPendingNotifications = 16
	notifyTimeout           = 10 * time.Second
)

// PhotoService handles photo-related business logic
type PhotoService struct {
	photoRepo repository.PhotoStore
	userRepo  repository.UserStore
	blobs     storage.Storage
	notifier  notify.Notifier
	maxBytes  int64
	now       func() time.Time

	pending chan struct{}
	wg      sync.WaitGroup
}

// NewPhotoService creates a new photo service
func NewPhotoService(
	photoRepo repository.PhotoStore,
	userRepo repository.UserStore,
	blobs storage.Storage,
	notifier notify.Notifier,
	maxBytes int64,
) *PhotoService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &PhotoService{
		photoRepo: photoRepo,
		userRepo:  userRepo,
		blobs:     blobs,
		notifier:  notifier,
		maxBytes:  maxBytes,
		now:       time.Now,
		pending:   make(chan struct{}, maxPendingNotifications),
	}
}

// UploadInput describes one uploaded file
type UploadInput struct {
	File        io.Reader
	Filename    string
	Size        int64
	DisplayName string
	// AuthorID is empty for anonymous uploads
	AuthorID string
}

// Page is one page of photos plus the cursor for the next one.
// NextCursor is empty when the page came back short.
type Page struct {
	Photos     []*models.Photo `json:"photos"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// UploadPhoto stores the image bytes, then the photo record, and returns the new photo id
func (s *PhotoService) UploadPhoto(ctx context.Context, in UploadInput) (string, error) {
	body, contentType, err := validation.SniffImage(in.File, in.Size, s.maxBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	namespace := in.AuthorID
	if namespace == "" {
		namespace = anonymousNamespace
	}
	filename := validation.CleanFilename(in.Filename)
	key := fmt.Sprintf("photos/%s/%d_%s", namespace, s.now().UnixNano(), filename)

	if err := s.blobs.Put(ctx, key, body, in.Size, contentType); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	url, err := s.blobs.URL(ctx, key)
	if err != nil {
		return "", s.orphaned(key, err)
	}

	author := in.DisplayName
	if author == "" {
		author = models.AnonymousAuthor
	}
	photo := &models.Photo{
		URL:         url,
		StorageKey:  key,
		Name:        filename,
		Size:        in.Size,
		ContentType: contentType,
		Author:      author,
		AuthorID:    in.AuthorID,
		LikeCount:   0,
		LikedBy:     []string{},
	}
	if err := s.photoRepo.Create(ctx, photo); err != nil {
		return "", s.orphaned(key, err)
	}

	if in.AuthorID != "" {
		if err := s.userRepo.AppendUploadedPhoto(ctx, in.AuthorID, photo.ID); err != nil {
			// The photo is already listed by author_id; the user's list is informational.
			log.Warn().
				Err(err).
				Str("user_id", in.AuthorID).
				Str("photo_id", photo.ID).
				Msg("Failed to record uploaded photo on user")
		}
	}

	log.Info().
		Str("photo_id", photo.ID).
		Str("author_id", in.AuthorID).
		Str("key", key).
		Int64("size", in.Size).
		Msg("Photo uploaded")

	return photo.ID, nil
}

// orphaned reports a blob that exists without a photo record so it can be reconciled
func (s *PhotoService) orphaned(key string, err error) error {
	log.Error().
		Err(err).
		Str("key", key).
		Msg("Blob stored without photo record")
	return fmt.Errorf("%w (orphaned blob %s): %w", ErrMetadataWriteFailed, key, err)
}

// GetPhoto retrieves a single photo as seen by viewerID
func (s *PhotoService) GetPhoto(ctx context.Context, photoID, viewerID string) (*models.Photo, error) {
	photo, err := s.photoRepo.GetByID(ctx, photoID)
	if err != nil {
		return nil, classify("get photo", err)
	}
	return photo.ForViewer(viewerID), nil
}

// ListPhotos returns one page of photos, newest first, starting after cursor
func (s *PhotoService) ListPhotos(ctx context.Context, limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	after, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, classify("list photos", err)
	}

	photos, err := s.photoRepo.List(ctx, limit, after)
	if err != nil {
		return nil, classify("list photos", err)
	}

	page := &Page{Photos: photos}
	if len(photos) == limit {
		page.NextCursor = repository.CursorAfter(photos).Encode()
	}
	return page, nil
}

// ListPhotosByAuthor returns every photo uploaded by authorID, newest first
func (s *PhotoService) ListPhotosByAuthor(ctx context.Context, authorID string) ([]*models.Photo, error) {
	photos, err := s.photoRepo.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, classify("list photos by author", err)
	}
	return photos, nil
}

// ListFavoritedPhotos returns every photo userID liked, each marked as favorited
func (s *PhotoService) ListFavoritedPhotos(ctx context.Context, userID string) ([]*models.Photo, error) {
	photos, err := s.photoRepo.ListLikedBy(ctx, userID)
	if err != nil {
		return nil, classify("list favorited photos", err)
	}
	for _, p := range photos {
		p.IsFavoritedByViewer = true
	}
	return photos, nil
}

// ToggleLike likes the photo for userID, or removes the like if already present
func (s *PhotoService) ToggleLike(ctx context.Context, photoID, userID string) (*models.LikeResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("toggle like: %w: user id is required", ErrInvalidInput)
	}

	result, err := s.photoRepo.ToggleLike(ctx, photoID, userID)
	if err != nil {
		return nil, classify("toggle like", err)
	}

	if result.IsFavoritedByViewer {
		s.notifyLikeAsync(ctx, photoID, userID, result.LikeCount)
	}

	return result, nil
}

// Wait blocks until in-flight like notifications have finished
func (s *PhotoService) Wait() {
	s.wg.Wait()
}

// notifyLikeAsync runs notifyLike off the request path. When too many notifications
// are already pending the new one is dropped.
func (s *PhotoService) notifyLikeAsync(ctx context.Context, photoID, likerID string, likeCount int) {
	select {
	case s.pending <- struct{}{}:
	default:
		log.Warn().
			Str("photo_id", photoID).
			Str("user_id", likerID).
			Msg("Too many pending like notifications, dropping")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.pending }()
		defer cancel()
		s.notifyLike(ctx, photoID, likerID, likeCount)
	}()
}

// notifyLike tells the author about a new like; failures are only logged
func (s *PhotoService) notifyLike(ctx context.Context, photoID, likerID string, likeCount int) {
	photo, err := s.photoRepo.GetByID(ctx, photoID)
	if err != nil || photo.AuthorID == "" || photo.AuthorID == likerID {
		return
	}
	author, err := s.userRepo.GetByID(ctx, photo.AuthorID)
	if err != nil {
		return
	}
	if err := s.notifier.PhotoLiked(ctx, author, photo, likeCount); err != nil {
		log.Warn().
			Err(err).
			Str("photo_id", photoID).
			Str("author_id", photo.AuthorID).
			Msg("Failed to notify author about like")
	}
}

// DeletePhoto removes the blob and then the record. Only the author may delete.
func (s *PhotoService) DeletePhoto(ctx context.Context, photoID, requesterID string) error {
	photo, err := s.photoRepo.GetByID(ctx, photoID)
	if err != nil {
		return classify("delete photo", err)
	}

	if photo.AuthorID == "" || photo.AuthorID != requesterID {
		return fmt.Errorf("delete photo %s: %w", photoID, ErrForbidden)
	}

	if err := s.blobs.Delete(ctx, photo.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: blob %s: %w", ErrDeleteFailed, photo.StorageKey, err)
	}

	if err := s.photoRepo.Delete(ctx, photoID); err != nil {
		log.Error().
			Err(err).
			Str("photo_id", photoID).
			Str("key", photo.StorageKey).
			Msg("Blob deleted but photo record remains")
		return fmt.Errorf("%w: record %s: %w", ErrDeleteFailed, photoID, err)
	}

	log.Info().
		Str("photo_id", photoID).
		Str("user_id", requesterID).
		Msg("Photo deleted")

	return nil
}
