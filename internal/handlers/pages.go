package handlers

import (
	"net/http"
	"strconv"

	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/services"

	"golang.org/x/sync/errgroup"
)

// PageHandler serves the view models behind the gallery's pages
type PageHandler struct {
	queries *query.Client
}

// NewPageHandler creates a new page handler
func NewPageHandler(queries *query.Client) *PageHandler {
	return &PageHandler{queries: queries}
}

// LandingView is the model for the landing page
type LandingView struct {
	Session       SessionResponse   `json:"session"`
	UploadSources []string          `json:"upload_sources"`
	Links         map[string]string `json:"links"`
}

// MyPhotosView is the model for the signed-in user's own page
type MyPhotosView struct {
	Session   SessionResponse `json:"session"`
	Uploaded  []*models.Photo `json:"uploaded"`
	Favorites []*models.Photo `json:"favorites"`
}

// SharedPhotosView is the model for the shared gallery page
type SharedPhotosView struct {
	Session SessionResponse `json:"session"`
	*services.Page
}

// Landing handles GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	links := map[string]string{
		"upload": "/api/v1/photos",
		"login":  "/auth/google",
	}
	if middleware.GetUserID(r.Context()) != "" {
		links = map[string]string{
			"upload":        "/api/v1/photos",
			"my_photos":     "/my-photos",
			"shared_photos": "/shared-photos",
			"logout":        "/auth/logout",
		}
	}

	respondJSON(w, http.StatusOK, LandingView{
		Session:       sessionResponse(r),
		UploadSources: []string{SourceCamera, SourceGallery},
		Links:         links,
	})
}

// MyPhotos handles GET /my-photos
func (h *PageHandler) MyPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	view := MyPhotosView{Session: sessionResponse(r)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		photos, err := h.queries.PhotosByAuthor(gctx, userID, userID)
		view.Uploaded = photos
		return err
	})
	g.Go(func() error {
		photos, err := h.queries.FavoritedPhotos(gctx, userID, userID)
		view.Favorites = photos
		return err
	})
	if err := g.Wait(); err != nil {
		respondServiceError(w, r, err, "Failed to load my photos")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// SharedPhotos handles GET /shared-photos
func (h *PageHandler) SharedPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.queries.Photos(ctx, middleware.GetUserID(ctx), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		respondServiceError(w, r, err, "Failed to load shared photos")
		return
	}

	respondJSON(w, http.StatusOK, SharedPhotosView{Session: sessionResponse(r), Page: page})
}

// NotFound redirects unknown routes to the landing page
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}
