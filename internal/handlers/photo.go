package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Upload sources offered by the landing page
const (
	SourceCamera  = "camera"
	SourceGallery = "gallery"
)

// PhotoHandler handles photo-related HTTP requests
type PhotoHandler struct {
	queries  *query.Client
	maxBytes int64
	maxFiles int
}

// NewPhotoHandler creates a new photo handler
func NewPhotoHandler(queries *query.Client, maxBytes int64, maxFiles int) *PhotoHandler {
	return &PhotoHandler{
		queries:  queries,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
	}
}

// UploadResponse lists the photos stored by one upload request
type UploadResponse struct {
	PhotoIDs []string `json:"photo_ids"`
	Source   string   `json:"source"`
}

// uploadErrorResponse reports a failed upload along with the files stored before it
type uploadErrorResponse struct {
	Error    string   `json:"error"`
	File     string   `json:"file"`
	Uploaded []string `json:"uploaded"`
}

// UploadPhotos handles POST /api/v1/photos
func (h *PhotoHandler) UploadPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.GetIdentity(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*int64(h.maxFiles)+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	source := r.FormValue("source")
	switch source {
	case "":
		source = SourceGallery
	case SourceCamera, SourceGallery:
	default:
		respondError(w, "source must be camera or gallery", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["photo"]
	if len(files) == 0 {
		respondError(w, "photo file is required", http.StatusBadRequest)
		return
	}
	if len(files) > h.maxFiles {
		respondError(w, "too many files, maximum is "+strconv.Itoa(h.maxFiles), http.StatusBadRequest)
		return
	}

	var authorID, displayName string
	if identity != nil {
		authorID = identity.Subject
		displayName = identity.DisplayName()
	}
	if author := r.FormValue("author"); author != "" {
		displayName = author
	}

	uploaded := make([]string, 0, len(files))
	for _, fh := range files {
		file, err := fh.Open()
		if err != nil {
			respondError(w, "Failed to read file", http.StatusBadRequest)
			return
		}

		id, err := h.queries.UploadPhoto(ctx, services.UploadInput{
			File:        file,
			Filename:    fh.Filename,
			Size:        fh.Size,
			DisplayName: displayName,
			AuthorID:    authorID,
		})
		file.Close()
		if err != nil {
			status, message := statusFor(err)
			log.Error().
				Err(err).
				Str("author_id", authorID).
				Str("filename", fh.Filename).
				Int("uploaded", len(uploaded)).
				Msg("Failed to upload photo")
			respondJSON(w, status, uploadErrorResponse{Error: message, File: fh.Filename, Uploaded: uploaded})
			return
		}
		uploaded = append(uploaded, id)
	}

	log.Info().
		Str("author_id", authorID).
		Str("source", source).
		Int("count", len(uploaded)).
		Msg("Photos uploaded")

	respondJSON(w, http.StatusCreated, UploadResponse{PhotoIDs: uploaded, Source: source})
}

// GetPhotos handles GET /api/v1/photos
func (h *PhotoHandler) GetPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			respondError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	page, err := h.queries.Photos(ctx, middleware.GetUserID(ctx), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list photos")
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// GetPhoto handles GET /api/v1/photos/{photo_id}
func (h *PhotoHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	photo, err := h.queries.Photo(ctx, chi.URLParam(r, "photo_id"), middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err, "Failed to get photo")
		return
	}

	respondJSON(w, http.StatusOK, photo)
}

// ToggleLike handles POST /api/v1/photos/{photo_id}/like
func (h *PhotoHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	photoID := chi.URLParam(r, "photo_id")

	result, err := h.queries.ToggleLike(ctx, photoID, userID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to toggle like")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("photo_id", photoID).
		Bool("liked", result.IsFavoritedByViewer).
		Msg("Like toggled")

	respondJSON(w, http.StatusOK, result)
}

// DeletePhoto handles DELETE /api/v1/photos/{photo_id}
func (h *PhotoHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	err := h.queries.DeletePhoto(ctx, chi.URLParam(r, "photo_id"), userID)
	if err != nil {
		if errors.Is(err, services.ErrForbidden) {
			respondError(w, "Only the author can delete this photo", http.StatusForbidden)
			return
		}
		respondServiceError(w, r, err, "Failed to delete photo")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
