// Package query exposes the gallery reads and writes through the cache.
// Reads are cached per key; each successful write invalidates the prefixes
// listed for it in the invalidation table.
package query

import (
	"context"
	"errors"
	"fmt"

	"guest-gallery-backend/internal/cache"
	"guest-gallery-backend/internal/config"
	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/services"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNotReady is returned by queries whose id argument is still empty.
// The store is not touched.
var ErrNotReady = errors.New("query not ready")

// Client runs typed queries and mutations against the services through a cache
type Client struct {
	photos *services.PhotoService
	users  *services.UserService
	cache  *cache.Cache
}

// NewClient creates a query client
func NewClient(photos *services.PhotoService, users *services.UserService, c *cache.Cache) *Client {
	return &Client{
		photos: photos,
		users:  users,
		cache:  c,
	}
}

// NewCache builds the cache with the per-family policies from cfg
func NewCache(cfg config.CacheConfig, reg prometheus.Registerer) *cache.Cache {
	return cache.New(cache.Config{
		Enabled: cfg.Enabled,
		Default: cache.Policy{StaleAfter: cfg.PhotosStale, EvictAfter: cfg.EvictAfter},
		Policies: map[string]cache.Policy{
			KeyPhotos:                      {StaleAfter: cfg.PhotosStale, EvictAfter: cfg.EvictAfter},
			KeyPhotos + "/" + authorSeg:    {StaleAfter: cfg.AuthorStale, EvictAfter: cfg.EvictAfter},
			KeyPhotos + "/" + favoritedSeg: {StaleAfter: cfg.FavoritedStale, EvictAfter: cfg.EvictAfter},
			KeyUsers:                       {StaleAfter: cfg.UserStale, EvictAfter: cfg.EvictAfter},
		},
		Retries:         cfg.ReadRetries,
		Retryable:       Retryable,
		JanitorInterval: cfg.JanitorInterval,
		Registerer:      reg,
	})
}

// Retryable reports whether a read failure is worth another attempt
func Retryable(err error) bool {
	return errors.Is(err, services.ErrTransient)
}

// Cache returns the underlying cache
func (q *Client) Cache() *cache.Cache {
	return q.cache
}

// Photos returns one page of the shared photo list as seen by viewerID
func (q *Client) Photos(ctx context.Context, viewerID string, limit int, cursor string) (*services.Page, error) {
	limit = pageSize(limit)
	page, err := cache.Query(ctx, q.cache, PhotoListKey(limit, cursor), func(ctx context.Context) (*services.Page, error) {
		return q.photos.ListPhotos(ctx, limit, cursor)
	})
	if err != nil {
		return nil, err
	}
	return &services.Page{Photos: forViewer(page.Photos, viewerID), NextCursor: page.NextCursor}, nil
}

// PhotosByAuthor returns the photos uploaded by authorID as seen by viewerID
func (q *Client) PhotosByAuthor(ctx context.Context, authorID, viewerID string) ([]*models.Photo, error) {
	if authorID == "" {
		return nil, fmt.Errorf("photos by author: %w", ErrNotReady)
	}
	photos, err := cache.Query(ctx, q.cache, AuthorPhotosKey(authorID), func(ctx context.Context) ([]*models.Photo, error) {
		return q.photos.ListPhotosByAuthor(ctx, authorID)
	})
	if err != nil {
		return nil, err
	}
	return forViewer(photos, viewerID), nil
}

// FavoritedPhotos returns the photos liked by userID. Every record is marked as
// favorited whoever the viewer is; viewerID only scopes the returned copies.
func (q *Client) FavoritedPhotos(ctx context.Context, userID, viewerID string) ([]*models.Photo, error) {
	if userID == "" {
		return nil, fmt.Errorf("favorited photos: %w", ErrNotReady)
	}
	photos, err := cache.Query(ctx, q.cache, FavoritedPhotosKey(userID), func(ctx context.Context) ([]*models.Photo, error) {
		return q.photos.ListFavoritedPhotos(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return favorited(photos, viewerID), nil
}

// Photo returns a single photo as seen by viewerID
func (q *Client) Photo(ctx context.Context, photoID, viewerID string) (*models.Photo, error) {
	if photoID == "" {
		return nil, fmt.Errorf("photo: %w", ErrNotReady)
	}
	photo, err := cache.Query(ctx, q.cache, PhotoKey(photoID), func(ctx context.Context) (*models.Photo, error) {
		return q.photos.GetPhoto(ctx, photoID, "")
	})
	if err != nil {
		return nil, err
	}
	return photo.ForViewer(viewerID), nil
}

// User returns the user record, or nil when the user does not exist
func (q *Client) User(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user: %w", ErrNotReady)
	}
	user, err := cache.Query(ctx, q.cache, UserKey(userID), func(ctx context.Context) (*models.User, error) {
		return q.users.GetUser(ctx, userID)
	})
	if err != nil || user == nil {
		return nil, err
	}
	cp := *user
	return &cp, nil
}

// UploadPhoto stores one photo and invalidates the photo lists
func (q *Client) UploadPhoto(ctx context.Context, in services.UploadInput) (string, error) {
	id, err := q.photos.UploadPhoto(ctx, in)
	if err != nil {
		return "", err
	}
	q.invalidate(MutationUploadPhoto, Scope{AuthorID: in.AuthorID})
	return id, nil
}

// ToggleLike flips userID's like on the photo
func (q *Client) ToggleLike(ctx context.Context, photoID, userID string) (*models.LikeResult, error) {
	result, err := q.photos.ToggleLike(ctx, photoID, userID)
	if err != nil {
		return nil, err
	}
	q.invalidate(MutationToggleLike, Scope{UserID: userID})
	return result, nil
}

// DeletePhoto removes a photo owned by requesterID.
// A partial delete still invalidates, since the blob may already be gone.
func (q *Client) DeletePhoto(ctx context.Context, photoID, requesterID string) error {
	err := q.photos.DeletePhoto(ctx, photoID, requesterID)
	if err == nil || errors.Is(err, services.ErrDeleteFailed) {
		q.invalidate(MutationDeletePhoto, Scope{AuthorID: requesterID})
	}
	return err
}

// CreateUser inserts a user record
func (q *Client) CreateUser(ctx context.Context, profile *models.User) (string, error) {
	id, err := q.users.CreateUser(ctx, profile)
	if err != nil {
		return "", err
	}
	q.invalidate(MutationCreateUser, Scope{UserID: id})
	return id, nil
}

// UpdateUser applies a partial update to a user record
func (q *Client) UpdateUser(ctx context.Context, userID string, update models.UserUpdate) error {
	if userID == "" {
		return fmt.Errorf("update user: %w", ErrNotReady)
	}
	if err := q.users.UpdateUser(ctx, userID, update); err != nil {
		return err
	}
	q.invalidate(MutationUpdateUser, Scope{UserID: userID})
	return nil
}

// Watch refetches key after every invalidation and calls notify with the outcome
// until cancel is called
func (q *Client) Watch(key string, notify func(err error)) (cancel func(), err error) {
	fetch, err := q.fetcher(key)
	if err != nil {
		return nil, err
	}
	return q.cache.Watch(key, fetch, func(_ any, err error) { notify(err) }), nil
}

func (q *Client) invalidate(m Mutation, s Scope) {
	q.cache.Invalidate(Invalidates(m, s)...)
}

// fetcher maps a key back to the read that produces it
func (q *Client) fetcher(key string) (cache.Fetcher, error) {
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	switch k.family {
	case listSegment:
		return func(ctx context.Context) (any, error) { return q.photos.ListPhotos(ctx, k.limit, k.cursor) }, nil
	case authorSeg:
		return func(ctx context.Context) (any, error) { return q.photos.ListPhotosByAuthor(ctx, k.id) }, nil
	case favoritedSeg:
		return func(ctx context.Context) (any, error) { return q.photos.ListFavoritedPhotos(ctx, k.id) }, nil
	case itemSegment:
		return func(ctx context.Context) (any, error) { return q.photos.GetPhoto(ctx, k.id, "") }, nil
	default:
		return func(ctx context.Context) (any, error) { return q.users.GetUser(ctx, k.id) }, nil
	}
}

func pageSize(limit int) int {
	if limit <= 0 {
		return services.DefaultPageSize
	}
	return min(limit, services.MaxPageSize)
}

func forViewer(photos []*models.Photo, viewerID string) []*models.Photo {
	out := make([]*models.Photo, len(photos))
	for i, p := range photos {
		out[i] = p.ForViewer(viewerID)
	}
	return out
}

// favorited copies photos for viewerID and keeps the favorited flag set
func favorited(photos []*models.Photo, viewerID string) []*models.Photo {
	out := forViewer(photos, viewerID)
	for _, p := range out {
		p.IsFavoritedByViewer = true
	}
	return out
}
