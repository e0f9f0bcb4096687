package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob key does not exist
var ErrNotFound = errors.New("blob not found")

// Storage defines the blob operations the gallery needs
type Storage interface {
	// Put stores the bytes read from body at key
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// URL returns a location clients can fetch the blob from
	URL(ctx context.Context, key string) (string, error)

	// Delete removes the blob at key
	Delete(ctx context.Context, key string) error
}

// Object is a blob read back from a store that serves its own bytes
type Object struct {
	Data        []byte
	ContentType string
}

// Reader is implemented by stores that can serve blobs over the gallery's own HTTP server
type Reader interface {
	Get(ctx context.Context, key string) (*Object, error)
}
