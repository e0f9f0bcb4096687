package handlers

import (
	"encoding/json"
	"net/http"

	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	queries *query.Client
}

// NewUserHandler creates a new user handler
func NewUserHandler(queries *query.Client) *UserHandler {
	return &UserHandler{
		queries: queries,
	}
}

// GetUser handles GET /api/v1/users/{user_id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, chi.URLParam(r, "user_id"))
}

// GetMe handles GET /api/v1/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.respondUser(w, r, middleware.GetUserID(r.Context()))
}

func (h *UserHandler) respondUser(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.queries.User(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err, "Failed to get user")
		return
	}
	if user == nil {
		respondError(w, "User not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /api/v1/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var update models.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if update.Empty() {
		respondError(w, "Nothing to update", http.StatusBadRequest)
		return
	}

	if err := h.queries.UpdateUser(ctx, userID, update); err != nil {
		respondServiceError(w, r, err, "Failed to update user")
		return
	}

	log.Info().Str("user_id", userID).Msg("User updated")

	h.respondUser(w, r, userID)
}

// GetUserPhotos handles GET /api/v1/users/{user_id}/photos
func (h *UserHandler) GetUserPhotos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	photos, err := h.queries.PhotosByAuthor(ctx, chi.URLParam(r, "user_id"), middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list user photos")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"photos": photos})
}

// GetUserFavorites handles GET /api/v1/users/{user_id}/favorites
func (h *UserHandler) GetUserFavorites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	photos, err := h.queries.FavoritedPhotos(ctx, chi.URLParam(r, "user_id"), middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err, "Failed to list favorites")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"photos": photos})
}
