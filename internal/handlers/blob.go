package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"guest-gallery-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// BlobHandler serves photo bytes from a store that keeps them locally
type BlobHandler struct {
	blobs storage.Reader
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(blobs storage.Reader) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

// ServeBlob handles GET /blobs/*
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		respondError(w, "Invalid blob key", http.StatusBadRequest)
		return
	}

	obj, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "Not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to read blob")
		respondError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}
