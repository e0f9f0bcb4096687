package cmd

import (
	"net/http"

	"guest-gallery-backend/internal/config"
	"guest-gallery-backend/internal/handlers"
	"guest-gallery-backend/internal/hub"
	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/session"
	"guest-gallery-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps is everything the router needs
type Deps struct {
	Queries  *query.Client
	Sessions *session.Manager
	Provider session.Provider
	Hub      *hub.Hub
	// Blobs is set when photo bytes are served by this process
	Blobs        storage.Reader
	Metrics      http.Handler
	Upload       config.UploadConfig
	CookieSecure bool
}

// NewRouter wires the HTTP routes
func NewRouter(d Deps) http.Handler {
	photoHandler := handlers.NewPhotoHandler(d.Queries, d.Upload.MaxBytes, d.Upload.MaxFiles)
	userHandler := handlers.NewUserHandler(d.Queries)
	authHandler := handlers.NewAuthHandler(d.Sessions, d.Provider, d.CookieSecure)
	pageHandler := handlers.NewPageHandler(d.Queries)
	wsHandler := handlers.NewWebSocketHandler(d.Hub, d.Sessions)

	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.NotFound(pageHandler.NotFound)

	// Infrastructure routes
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.Blobs != nil {
		r.Get("/blobs/*", handlers.NewBlobHandler(d.Blobs).ServeBlob)
	}
	r.Get("/ws", wsHandler.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(d.Sessions))

		// Pages
		r.Get("/", pageHandler.Landing)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/my-photos", pageHandler.MyPhotos)
			r.Get("/shared-photos", pageHandler.SharedPhotos)
		})

		// Auth
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/session", authHandler.Session)
		})

		r.Route("/api/v1", func(r chi.Router) {
			// Public routes
			r.Post("/photos", photoHandler.UploadPhotos)
			r.Get("/photos", photoHandler.GetPhotos)
			r.Get("/photos/{photo_id}", photoHandler.GetPhoto)
			r.Get("/users/{user_id}", userHandler.GetUser)
			r.Get("/users/{user_id}/photos", userHandler.GetUserPhotos)
			r.Get("/users/{user_id}/favorites", userHandler.GetUserFavorites)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Post("/photos/{photo_id}/like", photoHandler.ToggleLike)
				r.Delete("/photos/{photo_id}", photoHandler.DeletePhoto)
				r.Get("/me", userHandler.GetMe)
				r.Patch("/me", userHandler.UpdateMe)
			})
		})
	})

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
