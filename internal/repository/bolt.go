package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"guest-gallery-backend/internal/models"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	photoBucket = "photos"
	userBucket  = "users"
)

// BoltDB is an embedded document store holding photo and user records as JSON.
// Every mutation runs in a single bbolt write transaction, which bbolt serializes.
type BoltDB struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens (or creates) the bbolt file at path
func OpenBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{photoBucket, userBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Photos returns the photo collection
func (b *BoltDB) Photos() *BoltPhotoRepository {
	return &BoltPhotoRepository{b: b}
}

// Users returns the user collection
func (b *BoltDB) Users() *BoltUserRepository {
	return &BoltUserRepository{b: b}
}

// BoltPhotoRepository implements PhotoStore on bbolt
type BoltPhotoRepository struct {
	b *BoltDB
}

// Create creates a new photo
func (r *BoltPhotoRepository) Create(ctx context.Context, photo *models.Photo) error {
	if photo.ID == "" {
		photo.ID = uuid.New().String()
	}
	if photo.Timestamp.IsZero() {
		photo.Timestamp = r.b.now().UTC()
	}
	if photo.LikedBy == nil {
		photo.LikedBy = []string{}
	}
	return r.b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(photoBucket))
		if bucket.Get([]byte(photo.ID)) != nil {
			return fmt.Errorf("photo %s: %w", photo.ID, ErrAlreadyExists)
		}
		return putPhoto(bucket, photo)
	})
}

// GetByID retrieves a photo by ID
func (r *BoltPhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	var photo *models.Photo
	err := r.b.db.View(func(tx *bolt.Tx) error {
		var err error
		photo, err = getPhoto(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return photo, nil
}

// List retrieves a page of photos, newest first
func (r *BoltPhotoRepository) List(ctx context.Context, limit int, after *Cursor) ([]*models.Photo, error) {
	photos, err := r.scan(func(p *models.Photo) bool {
		return after == nil || after.before(p)
	})
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(photos) > limit {
		photos = photos[:limit]
	}
	return photos, nil
}

// ListByAuthor retrieves every photo uploaded by authorID, newest first
func (r *BoltPhotoRepository) ListByAuthor(ctx context.Context, authorID string) ([]*models.Photo, error) {
	return r.scan(func(p *models.Photo) bool { return p.AuthorID == authorID })
}

// ListLikedBy retrieves every photo liked by userID, newest first
func (r *BoltPhotoRepository) ListLikedBy(ctx context.Context, userID string) ([]*models.Photo, error) {
	return r.scan(func(p *models.Photo) bool { return slices.Contains(p.LikedBy, userID) })
}

// ToggleLike flips the like inside one write transaction
func (r *BoltPhotoRepository) ToggleLike(ctx context.Context, photoID, userID string) (*models.LikeResult, error) {
	var result models.LikeResult
	err := r.b.db.Update(func(tx *bolt.Tx) error {
		photo, err := getPhoto(tx, photoID)
		if err != nil {
			return err
		}

		if i := slices.Index(photo.LikedBy, userID); i >= 0 {
			photo.LikedBy = slices.Delete(photo.LikedBy, i, i+1)
			photo.LikeCount--
		} else {
			photo.LikedBy = append(photo.LikedBy, userID)
			photo.LikeCount++
		}
		result = models.LikeResult{LikeCount: photo.LikeCount, IsFavoritedByViewer: photo.IsLikedBy(userID)}

		if err := putPhoto(tx.Bucket([]byte(photoBucket)), photo); err != nil {
			return err
		}

		user, err := getUser(tx, userID)
		if errors.Is(err, ErrNotFound) {
			// Likes from users without a record are still counted on the photo.
			return nil
		}
		if err != nil {
			return err
		}
		user.FavoritedPhotoIDs = slices.DeleteFunc(user.FavoritedPhotoIDs, func(id string) bool { return id == photoID })
		if result.IsFavoritedByViewer {
			user.FavoritedPhotoIDs = append(user.FavoritedPhotoIDs, photoID)
		}
		return putJSON(tx.Bucket([]byte(userBucket)), user.ID, user)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete deletes a photo by ID
func (r *BoltPhotoRepository) Delete(ctx context.Context, id string) error {
	return r.b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(photoBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("photo %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

func (r *BoltPhotoRepository) scan(keep func(*models.Photo) bool) ([]*models.Photo, error) {
	photos := []*models.Photo{}
	err := r.b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(photoBucket)).ForEach(func(k, v []byte) error {
			photo, err := decodePhoto(v)
			if err != nil {
				return fmt.Errorf("failed to decode photo %s: %w", k, err)
			}
			if keep(photo) {
				photos = append(photos, photo)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get photos: %w", err)
	}
	sort.Slice(photos, func(i, j int) bool {
		if photos[i].Timestamp.Equal(photos[j].Timestamp) {
			return photos[i].ID > photos[j].ID
		}
		return photos[i].Timestamp.After(photos[j].Timestamp)
	})
	return photos, nil
}

// BoltUserRepository implements UserStore on bbolt
type BoltUserRepository struct {
	b *BoltDB
}

// Create creates a new user. A duplicate id reports ErrAlreadyExists.
func (r *BoltUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.b.now().UTC()
	}
	if user.UploadedPhotoIDs == nil {
		user.UploadedPhotoIDs = []string{}
	}
	if user.FavoritedPhotoIDs == nil {
		user.FavoritedPhotoIDs = []string{}
	}
	return r.b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucket))
		if bucket.Get([]byte(user.ID)) != nil {
			return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
		}
		return putJSON(bucket, user.ID, user)
	})
}

// GetByID retrieves a user by ID
func (r *BoltUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := r.b.db.View(func(tx *bolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Update merges the non-nil fields of update into the user
func (r *BoltUserRepository) Update(ctx context.Context, id string, update models.UserUpdate) error {
	return r.b.db.Update(func(tx *bolt.Tx) error {
		user, err := getUser(tx, id)
		if err != nil {
			return err
		}
		update.Apply(user)
		return putJSON(tx.Bucket([]byte(userBucket)), user.ID, user)
	})
}

// AppendUploadedPhoto appends photoID to the user's uploaded list
func (r *BoltUserRepository) AppendUploadedPhoto(ctx context.Context, userID, photoID string) error {
	return r.b.db.Update(func(tx *bolt.Tx) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		user.UploadedPhotoIDs = append(user.UploadedPhotoIDs, photoID)
		return putJSON(tx.Bucket([]byte(userBucket)), user.ID, user)
	})
}

func getPhoto(tx *bolt.Tx, id string) (*models.Photo, error) {
	data := tx.Bucket([]byte(photoBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}
	photo, err := decodePhoto(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo %s: %w", id, err)
	}
	return photo, nil
}

// photoRecord is the stored form of a photo; it keeps the blob key the API hides
type photoRecord struct {
	models.Photo
	StorageKey string `json:"storage_key"`
}

func putPhoto(bucket *bolt.Bucket, photo *models.Photo) error {
	rec := photoRecord{Photo: *photo, StorageKey: photo.StorageKey}
	rec.IsFavoritedByViewer = false
	return putJSON(bucket, photo.ID, rec)
}

func decodePhoto(data []byte) (*models.Photo, error) {
	var rec photoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	photo := rec.Photo
	photo.StorageKey = rec.StorageKey
	if photo.LikedBy == nil {
		photo.LikedBy = []string{}
	}
	return &photo, nil
}

func getUser(tx *bolt.Tx, id string) (*models.User, error) {
	data := tx.Bucket([]byte(userBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return &user, nil
}

func putJSON(bucket *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return bucket.Put([]byte(key), data)
}
