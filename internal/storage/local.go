package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	blobBucket = "blobs"
	metaBucket = "blob_meta"
)

// LocalStorage keeps blobs in a bbolt file and serves them under baseURL
type LocalStorage struct {
	db      *bolt.DB
	baseURL string
}

type blobMeta struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewLocalStorage opens the blob file at path. baseURL is the externally visible prefix
// of the blob route, e.g. "http://localhost:8080/blobs".
func NewLocalStorage(path, baseURL string) (*LocalStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(blobBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob buckets: %w", err)
	}

	return &LocalStorage{db: db, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Close closes the blob file
func (s *LocalStorage) Close() error {
	return s.db.Close()
}

// Put stores a blob
func (s *LocalStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read blob body: %w", err)
	}
	meta, err := json.Marshal(blobMeta{ContentType: contentType, Size: int64(len(data)), CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode blob metadata: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(blobBucket)).Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to write blob: %w", err)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), meta)
	})
}

// URL returns the HTTP location of the blob
func (s *LocalStorage) URL(ctx context.Context, key string) (string, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(blobBucket)).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/"), nil
}

// Delete removes a blob
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket([]byte(blobBucket))
		if blobs.Get([]byte(key)) == nil {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		if err := blobs.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Delete([]byte(key))
	})
}

// Get reads a blob back
func (s *LocalStorage) Get(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(blobBucket)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		var meta blobMeta
		if raw := tx.Bucket([]byte(metaBucket)).Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("failed to decode blob metadata: %w", err)
			}
		}
		// bbolt memory is only valid inside the transaction.
		obj = &Object{Data: append([]byte(nil), data...), ContentType: meta.ContentType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
