package services

import (
	"errors"
	"fmt"

	"guest-gallery-backend/internal/repository"
)

// Error kinds surfaced by the data-access layer. Callers match them with errors.Is.
var (
	// ErrUploadFailed means the blob write failed; nothing was persisted
	ErrUploadFailed = errors.New("upload failed")
	// ErrMetadataWriteFailed means the blob exists but its photo record could not be written
	ErrMetadataWriteFailed = errors.New("photo metadata write failed")
	// ErrNotFound means the referenced photo or user does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the actor does not own the resource
	ErrForbidden = errors.New("forbidden")
	// ErrDeleteFailed means the blob or record removal failed; the other half may be done
	ErrDeleteFailed = errors.New("delete failed")
	// ErrTransient means the store could not be reached or failed unexpectedly
	ErrTransient = errors.New("store unavailable")
	// ErrAlreadyExists means a record with the same id exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput means the request itself is malformed
	ErrInvalidInput = errors.New("invalid input")
)

// classify maps a store error onto the service taxonomy
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrAlreadyExists):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case errors.Is(err, repository.ErrInvalidCursor):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
}
